// Package environment captures the machine a benchmark ran on. Fields the
// platform cannot report are left empty (or zero) and omitted from JSON.
package environment

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot describes the execution environment at the time of a run.
type Snapshot struct {
	DeviceName       string    `json:"deviceName"`
	SystemName       string    `json:"systemName"`
	SystemVersion    string    `json:"systemVersion"`
	LocaleIdentifier string    `json:"localeIdentifier"`
	AppVersion       string    `json:"appVersion,omitempty"`
	BuildNumber      string    `json:"buildNumber,omitempty"`
	HardwareModel    string    `json:"hardwareModel,omitempty"`
	CPUModel         string    `json:"cpuModel,omitempty"`
	CPUCores         int       `json:"cpuCores,omitempty"`
	GPUModel         string    `json:"gpuModel,omitempty"`
	TotalMemory      uint64    `json:"totalMemory,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Device returns the "name • system version" line used in summaries.
func (s Snapshot) Device() string {
	return fmt.Sprintf("%s • %s %s", s.DeviceName, s.SystemName, s.SystemVersion)
}

// Lines renders the snapshot as label/value pairs for console headers.
// Unknown fields are skipped.
func (s Snapshot) Lines() [][2]string {
	lines := [][2]string{
		{"Device", s.DeviceName},
		{"System", strings.TrimSpace(s.SystemName + " " + s.SystemVersion)},
		{"Locale", s.LocaleIdentifier},
	}
	if s.AppVersion != "" {
		version := s.AppVersion
		if s.BuildNumber != "" {
			version += " (" + s.BuildNumber + ")"
		}
		lines = append(lines, [2]string{"App", version})
	}
	if s.HardwareModel != "" {
		lines = append(lines, [2]string{"Hardware", s.HardwareModel})
	}
	if s.CPUModel != "" || s.CPUCores > 0 {
		cpu := s.CPUModel
		if s.CPUCores > 0 {
			cpu = strings.TrimSpace(fmt.Sprintf("%s (%d cores)", cpu, s.CPUCores))
		}
		lines = append(lines, [2]string{"CPU", cpu})
	}
	if s.GPUModel != "" {
		lines = append(lines, [2]string{"GPU", s.GPUModel})
	}
	if s.TotalMemory > 0 {
		lines = append(lines, [2]string{"Memory", humanize.IBytes(s.TotalMemory)})
	}
	return lines
}

// Capturer produces environment snapshots.
type Capturer interface {
	Capture(ctx context.Context) Snapshot
}

// Static returns a Capturer that always reports s.
func Static(s Snapshot) Capturer {
	return staticCapturer{s: s}
}

type staticCapturer struct{ s Snapshot }

func (c staticCapturer) Capture(context.Context) Snapshot { return c.s }

// SystemCapturer probes the running host.
type SystemCapturer struct {
	AppVersion  string
	BuildNumber string
	// Now defaults to time.Now.
	Now func() time.Time
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Capture gathers the snapshot. Probes that fail leave their fields empty.
func (c SystemCapturer) Capture(ctx context.Context) Snapshot {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	getenv := c.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	snap := Snapshot{
		DeviceName:       hostname,
		SystemName:       systemName(runtime.GOOS),
		LocaleIdentifier: localeFromEnv(getenv),
		AppVersion:       c.AppVersion,
		BuildNumber:      c.BuildNumber,
		CPUCores:         runtime.NumCPU(),
	}
	probePlatform(ctx, &snap)
	if snap.SystemVersion == "" {
		snap.SystemVersion = "unknown"
	}
	snap.Timestamp = now()
	return snap
}

func systemName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return goos
	}
}

// localeFromEnv follows POSIX precedence: LC_ALL, LC_MESSAGES, then LANG.
// The codeset suffix is dropped, so "en_US.UTF-8" becomes "en_US".
func localeFromEnv(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := strings.TrimSpace(getenv(key))
		if value == "" {
			continue
		}
		if i := strings.IndexAny(value, ".@"); i >= 0 {
			value = value[:i]
		}
		if value != "" {
			return value
		}
	}
	return "C"
}
