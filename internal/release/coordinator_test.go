package release

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// journal records teardown operations across all fakes of one test.
type journal struct {
	mu  sync.Mutex
	ops []string
}

func (j *journal) add(op string) {
	j.mu.Lock()
	j.ops = append(j.ops, op)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ops...)
}

type fake struct {
	name string
	j    *journal
	err  error
	gate chan struct{}

	mu       sync.Mutex
	released bool
}

func (f *fake) do() error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
	f.j.add(f.name)
	return f.err
}

func (f *fake) Close() error                         { return f.do() }
func (f *fake) Ungrab() error                        { return f.do() }
func (f *fake) Release(context.Context) error        { return f.do() }
func (f *fake) ReleaseControl(context.Context) error { return f.do() }

// liveFake additionally reports whether it has been released.
type liveFake struct{ *fake }

func (f liveFake) live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.released
}

func (f liveFake) Held() bool    { return f.live() }
func (f liveFake) Grabbed() bool { return f.live() }

type set struct {
	conn, session, gpu, surface, input, grab *fake
}

func newSet(j *journal) set {
	mk := func(name string) *fake { return &fake{name: name, j: j} }
	return set{mk("conn"), mk("session"), mk("gpu"), mk("surface"), mk("input"), mk("grab")}
}

// trackFirst tracks the first n resources in acquisition order.
func trackFirst(t *testing.T, c *Coordinator, s set, n int) {
	t.Helper()
	tracks := []func() error{
		func() error { return c.TrackConnection(s.conn) },
		func() error { return c.TrackSession(s.session) },
		func() error { return c.TrackGPULease(s.gpu) },
		func() error { return c.TrackSurface(s.surface) },
		func() error { return c.TrackInputLease(s.input) },
		func() error { return c.TrackGrab(s.grab) },
	}
	for _, track := range tracks[:n] {
		if err := track(); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
}

func TestReleaseNothingHeld(t *testing.T) {
	c := New(Options{})
	steps, err := c.Release(context.Background())
	if err != nil || len(steps) != 0 {
		t.Fatalf("Release() = (%v, %v), want no steps and nil", steps, err)
	}
	if c.Held().Any() {
		t.Fatal("record must be empty")
	}
}

func TestReleaseEveryPartialStateInReverseOrder(t *testing.T) {
	reverse := []string{"grab", "input", "surface", "gpu", "session", "conn"}
	allSteps := []Step{StepUngrab, StepInputLease, StepCloseSurface, StepGPULease, StepReleaseControl, StepCloseConnection}

	for n := 0; n <= 6; n++ {
		j := &journal{}
		c := New(Options{})
		trackFirst(t, c, newSet(j), n)

		steps, err := c.Release(context.Background())
		if err != nil {
			t.Fatalf("n=%d: Release: %v", n, err)
		}
		wantOps := reverse[6-n:]
		if got := j.list(); !reflect.DeepEqual(got, append([]string(nil), wantOps...)) {
			t.Fatalf("n=%d: ops = %v, want %v", n, got, wantOps)
		}
		if wantSteps := allSteps[6-n:]; !reflect.DeepEqual(steps, append([]Step(nil), wantSteps...)) {
			t.Fatalf("n=%d: steps = %v, want %v", n, steps, wantSteps)
		}
		if c.Held().Any() {
			t.Fatalf("n=%d: record not cleared: %+v", n, c.Held())
		}
	}
}

func TestReleaseKeepsGoingAfterFailures(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	gpuErr := errors.New("EBUSY")
	controlErr := errors.New("broker gone")
	s.gpu.err = gpuErr
	s.session.err = controlErr

	c := New(Options{})
	trackFirst(t, c, s, 6)

	_, err := c.Release(context.Background())
	if !errors.Is(err, gpuErr) || !errors.Is(err, controlErr) {
		t.Fatalf("Release error = %v, want both failures joined", err)
	}
	if got := j.list(); len(got) != 6 || got[5] != "conn" {
		t.Fatalf("ops = %v, want every step attempted", got)
	}
}

func TestReleaseRunsOnce(t *testing.T) {
	j := &journal{}
	c := New(Options{})
	trackFirst(t, c, newSet(j), 6)

	first, err := c.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second call steps = %v, want %v", second, first)
	}
	if len(j.list()) != 6 {
		t.Fatalf("ops = %v, each resource must be released once", j.list())
	}
}

func TestConcurrentReleaseSharesOneRun(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	gate := make(chan struct{})
	s.grab.gate = gate

	c := New(Options{})
	trackFirst(t, c, s, 6)

	results := make(chan []Step, 4)
	for i := 0; i < 4; i++ {
		go func() {
			steps, _ := c.Release(context.Background())
			results <- steps
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 4; i++ {
		if steps := <-results; len(steps) != 6 {
			t.Fatalf("caller %d got %v", i, steps)
		}
	}
	if len(j.list()) != 6 {
		t.Fatalf("ops = %v, want a single teardown", j.list())
	}
}

func TestWaitingCallerHonoursOwnContext(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	gate := make(chan struct{})
	s.conn.gate = gate
	defer close(gate)

	c := New(Options{})
	trackFirst(t, c, s, 1)
	go c.Release(context.Background())
	for !c.Started() {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Release(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting Release = %v, want deadline", err)
	}
}

func TestSkipsAlreadyReleasedResources(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	c := New(Options{})

	input := liveFake{s.input}
	grab := liveFake{s.grab}
	if err := c.TrackInputLease(input); err != nil {
		t.Fatal(err)
	}
	if err := c.TrackGrab(grab); err != nil {
		t.Fatal(err)
	}
	grab.Ungrab()

	steps, err := c.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(steps, []Step{StepInputLease}) {
		t.Fatalf("steps = %v, want only the input lease", steps)
	}
	if got := j.list(); !reflect.DeepEqual(got, []string{"grab", "input"}) {
		t.Fatalf("ops = %v", got)
	}
}

func TestTrackAfterTeardownReleasesImmediately(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	c := New(Options{})
	trackFirst(t, c, s, 2)

	if _, err := c.Release(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.TrackGPULease(s.gpu); !errors.Is(err, ErrTeardownStarted) {
		t.Fatalf("late TrackGPULease = %v, want ErrTeardownStarted", err)
	}
	if got := j.list(); !reflect.DeepEqual(got, []string{"session", "conn", "gpu"}) {
		t.Fatalf("ops = %v", got)
	}
	if c.Held().GPULease {
		t.Fatal("a late resource must not enter the record")
	}
}

func TestObserveSeesEveryStep(t *testing.T) {
	j := &journal{}
	s := newSet(j)
	s.surface.err = errors.New("munmap")

	var seen []Step
	var failed []Step
	c := New(Options{Observe: func(step Step, err error) {
		seen = append(seen, step)
		if err != nil {
			failed = append(failed, step)
		}
	}})
	trackFirst(t, c, s, 4)
	c.Release(context.Background())

	if !reflect.DeepEqual(seen, []Step{StepCloseSurface, StepGPULease, StepReleaseControl, StepCloseConnection}) {
		t.Fatalf("observed %v", seen)
	}
	if !reflect.DeepEqual(failed, []Step{StepCloseSurface}) {
		t.Fatalf("failed %v", failed)
	}
}
