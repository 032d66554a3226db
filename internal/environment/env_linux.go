//go:build linux

package environment

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

func probePlatform(ctx context.Context, snap *Snapshot) {
	applyUname(snap)
	if model, err := os.ReadFile("/sys/devices/virtual/dmi/id/product_name"); err == nil {
		if name := strings.TrimSpace(string(model)); name != "" {
			snap.HardwareModel = name
		}
	}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		applyProcFS(fs, snap)
	}
	snap.GPUModel = nvidiaGPU(ctx)
}

// applyProcFS fills the CPU model and physical memory from a proc mount.
// Unreadable or incomplete files leave the fields empty.
func applyProcFS(fs procfs.FS, snap *Snapshot) {
	if cpus, err := fs.CPUInfo(); err == nil && len(cpus) > 0 {
		snap.CPUModel = strings.TrimSpace(cpus[0].ModelName)
	}
	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		snap.TotalMemory = *mem.MemTotal * 1024
	}
}

// nvidiaGPU asks nvidia-smi for the first GPU name. Hosts without the tool
// report no GPU.
func nvidiaGPU(ctx context.Context) string {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return ""
	}
	return firstLine(out)
}
