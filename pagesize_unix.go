//go:build unix

package bucache

import "golang.org/x/sys/unix"

// sysPageSize returns the OS memory page size.
func sysPageSize() uint64 {
	if ps := unix.Getpagesize(); ps > 0 {
		return uint64(ps)
	}
	return DefaultPageSize
}
