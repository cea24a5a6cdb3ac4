//go:build !unix

package bucache

import "os"

// sysPageSize returns the OS memory page size.
func sysPageSize() uint64 {
	if ps := os.Getpagesize(); ps > 0 {
		return uint64(ps)
	}
	return DefaultPageSize
}
