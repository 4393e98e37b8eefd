// Package sysinfo gathers the host facts logged at the start of a run and
// printed by the probe command.
package sysinfo

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

type Host struct {
	Hostname       string        `json:"hostname" yaml:"hostname"`
	Platform       string        `json:"platform" yaml:"platform"`
	KernelVersion  string        `json:"kernelVersion" yaml:"kernel_version"`
	Architecture   string        `json:"architecture" yaml:"architecture"`
	Virtualization string        `json:"virtualization,omitempty" yaml:"virtualization,omitempty"`
	Uptime         time.Duration `json:"uptime" yaml:"uptime"`
	Logins         []Login       `json:"logins,omitempty" yaml:"logins,omitempty"`
}

// Login is one utmp record.
type Login struct {
	User     string    `json:"user" yaml:"user"`
	Terminal string    `json:"terminal" yaml:"terminal"`
	Host     string    `json:"host,omitempty" yaml:"host,omitempty"`
	Started  time.Time `json:"started" yaml:"started"`
}

// infoFunc and usersFunc are swapped in tests.
var (
	infoFunc  = host.InfoWithContext
	usersFunc = host.UsersWithContext
)

// Collect returns what is known about the host. Missing facts are left
// empty; only the architecture is always set.
func Collect(ctx context.Context) Host {
	h := Host{Architecture: runtime.GOARCH}

	if info, err := infoFunc(ctx); err == nil {
		h.Hostname = info.Hostname
		h.Platform = joinNonEmpty(info.Platform, info.PlatformVersion)
		h.KernelVersion = info.KernelVersion
		if info.VirtualizationRole == "guest" {
			h.Virtualization = info.VirtualizationSystem
		}
		h.Uptime = time.Duration(info.Uptime) * time.Second
	}

	if users, err := usersFunc(ctx); err == nil {
		for _, u := range users {
			h.Logins = append(h.Logins, Login{
				User:     u.User,
				Terminal: u.Terminal,
				Host:     u.Host,
				Started:  time.Unix(int64(u.Started), 0),
			})
		}
	}
	return h
}

// LogValue keeps the start-of-run record short.
func (h Host) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("hostname", h.Hostname),
		slog.String("platform", h.Platform),
		slog.String("kernel", h.KernelVersion),
		slog.String("arch", h.Architecture),
		slog.Int("logins", len(h.Logins)),
	}
	if h.Virtualization != "" {
		attrs = append(attrs, slog.String("virtualization", h.Virtualization))
	}
	return slog.GroupValue(attrs...)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
