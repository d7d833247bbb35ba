package kernel

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// DetectBlockWidth picks the inner reduction block width for the host CPU.
// Wide-vector x86 gets four registers of eight lanes per step, ARM64 ASIMD
// gets two, and everything else one.
func DetectBlockWidth() int {
	switch {
	case runtime.GOARCH == "amd64" && (cpu.X86.HasAVX512F || cpu.X86.HasAVX2):
		return 4 * lanes
	case runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD:
		return 2 * lanes
	default:
		return lanes
	}
}
