//go:build !linux && !darwin

package environment

import (
	"context"
	"runtime"
)

func probePlatform(_ context.Context, snap *Snapshot) {
	snap.HardwareModel = runtime.GOARCH
}
