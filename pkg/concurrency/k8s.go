package concurrency

import (
	"log"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
)

// InitializeForKubernetes aligns GOMAXPROCS with the container CPU quota.
// Call it at the top of main() before sizing worker pools; the returned
// function restores the original value.
func InitializeForKubernetes() func() {
	undo, err := maxprocs.Set(maxprocs.Logger(log.Printf))
	if err != nil {
		log.Printf("Failed to set maxprocs: %v", err)
		return func() {}
	}

	log.Printf("Concurrency initialized: GOMAXPROCS=%d", runtime.GOMAXPROCS(0))
	return undo
}

// GetEffectiveCPUs returns the CPU count after cgroup limits are applied.
func GetEffectiveCPUs() int {
	return runtime.GOMAXPROCS(0)
}
