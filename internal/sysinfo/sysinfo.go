// Package sysinfo answers the host questions the cache tiers depend on:
// free space on a volume and a memory budget for the strong tier.
package sysinfo

import (
	"fmt"
	"math"
	"runtime/debug"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// BudgetDivisor is the share of memory granted to the strong tier.
const BudgetDivisor = 8

// FallbackBudget is used when neither GOMEMLIMIT nor system memory is known.
const FallbackBudget = 32 << 20

// FreeSpace returns the bytes available to unprivileged users on the volume
// holding path.
func FreeSpace(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("sysinfo: disk usage %q: %w", path, err)
	}
	return u.Free, nil
}

// MemoryBudget returns 1/BudgetDivisor of the process memory limit
// (GOMEMLIMIT) when one is set, else of the system's available memory.
func MemoryBudget() int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return limit / BudgetDivisor
	}
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return FallbackBudget
	}
	b := vm.Available / BudgetDivisor
	if b > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}
