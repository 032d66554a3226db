//go:build darwin

package environment

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

func probePlatform(ctx context.Context, snap *Snapshot) {
	applyUname(snap)
	if version, err := exec.CommandContext(ctx, "sw_vers", "-productVersion").Output(); err == nil {
		if v := firstLine(version); v != "" {
			snap.SystemVersion = v
		}
	}
	if model, err := unix.Sysctl("hw.model"); err == nil && model != "" {
		snap.HardwareModel = model
	}
	if brand, err := unix.Sysctl("machdep.cpu.brand_string"); err == nil {
		snap.CPUModel = strings.TrimSpace(brand)
	}
	if ncpu, err := unix.SysctlUint32("hw.ncpu"); err == nil && ncpu > 0 {
		snap.CPUCores = int(ncpu)
	}
	if mem, err := unix.SysctlUint64("hw.memsize"); err == nil {
		snap.TotalMemory = mem
	}
	snap.GPUModel = displayChip(ctx)
}

// displayChip reads the first display adapter from system_profiler.
func displayChip(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType", "-json").Output()
	if err != nil {
		return ""
	}
	return parseDisplays(out)
}

func parseDisplays(out []byte) string {
	var payload struct {
		Displays []struct {
			Model string `json:"sppci_model"`
			Name  string `json:"_name"`
		} `json:"SPDisplaysDataType"`
	}
	if err := json.Unmarshal(out, &payload); err != nil || len(payload.Displays) == 0 {
		return ""
	}
	if payload.Displays[0].Model != "" {
		return payload.Displays[0].Model
	}
	return payload.Displays[0].Name
}
