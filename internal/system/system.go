package system

import (
	"log"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mib = 1024 * 1024

// LogResources reports logical CPUs and memory before a long training run
func LogResources(logger *log.Logger) {
	cores, err := cpu.Counts(true)
	if err != nil {
		logger.Printf("WARN: could not read CPU count: %v", err)
	} else {
		logger.Printf("Host CPUs: %d logical", cores)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Printf("WARN: could not read memory stats: %v", err)
		return
	}
	logger.Printf("Host memory: %d MiB available of %d MiB (%.1f%% used)",
		vm.Available/mib, vm.Total/mib, vm.UsedPercent)
}
