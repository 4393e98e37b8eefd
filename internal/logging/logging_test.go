package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("broker")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "bus", "system")

	out := buf.String()
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=broker") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "bus=system") {
		t.Fatalf("expected bus field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("input")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestInitAttachesRootAttrs(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf, slog.String(KeyRunID, "run-1"))

	L("seat").Debug("tick")

	out := buf.String()
	if !strings.Contains(out, `"runId":"run-1"`) {
		t.Fatalf("expected runId attr in json output, got: %s", out)
	}
	if !strings.Contains(out, `"component":"seat"`) {
		t.Fatalf("expected component attr in json output, got: %s", out)
	}
}

func TestWithDeviceGroupsNumbers(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	WithDevice(L("seat"), "gpu", 226, 0).Info("lease held")

	out := buf.String()
	if !strings.Contains(out, "device.major=226") || !strings.Contains(out, "device.minor=0") {
		t.Fatalf("expected grouped device numbers, got: %s", out)
	}
	if !strings.Contains(out, "kind=gpu") {
		t.Fatalf("expected kind field, got: %s", out)
	}
}

func TestInitSwitchesHandlerFormat(t *testing.T) {
	logger := L("seat")

	var text, js bytes.Buffer
	Init("text", "info", &text)
	logger.Info("first")
	Init("json", "info", &js)
	logger.Info("second")
	Init("text", "info", &text)
	logger.Info("third")

	if !strings.Contains(text.String(), "msg=first") || !strings.Contains(text.String(), "msg=third") {
		t.Fatalf("text output missing records: %s", text.String())
	}
	if !strings.Contains(js.String(), `"msg":"second"`) {
		t.Fatalf("json output missing record: %s", js.String())
	}
	if strings.Contains(text.String(), "second") {
		t.Fatalf("json record leaked into text output: %s", text.String())
	}
}

func TestOpenRunLogShiftsPreviousRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatlease.log")

	for _, line := range []string{"first\n", "second\n", "third\n"} {
		rl, err := OpenRunLog(path, 1, 2)
		if err != nil {
			t.Fatalf("OpenRunLog: %v", err)
		}
		if _, err := rl.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := rl.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	want := map[string]string{
		path:        "third\n",
		path + ".1": "second\n",
		path + ".2": "first\n",
	}
	for p, content := range want {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != content {
			t.Fatalf("%s = %q, want %q", p, data, content)
		}
	}
}

func TestRunLogDropsWritesPastCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatlease.log")
	rl, err := OpenRunLog(path, 1, 0)
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	defer rl.Close()

	big := bytes.Repeat([]byte("x"), 1024*1024)
	if _, err := rl.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	n, err := rl.Write([]byte("overflow"))
	if err != nil || n != len("overflow") {
		t.Fatalf("Write past cap = (%d, %v), want silent drop", n, err)
	}
	if rl.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", rl.Dropped())
	}
}

func TestRunLogCloseTwice(t *testing.T) {
	rl, err := OpenRunLog(filepath.Join(t.TempDir(), "a.log"), 1, 1)
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	if err := rl.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := rl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := rl.Write([]byte("late")); err == nil {
		t.Fatal("write after close should fail")
	}
}
