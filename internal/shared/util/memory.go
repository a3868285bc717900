package util

import (
	"runtime"
)

// HeapAllocMB returns the live heap in MiB. Stage summaries log it because the
// loaded hash database dominates detector memory.
func HeapAllocMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc >> 20
}
