package bucache

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Version constants
const (
	// Major is the major version number
	Major = 0

	// Minor is the minor version number
	Minor = 1

	// Patch is the patch version number
	Patch = 0
)

// VersionInfo describes the library and its storage engine.
type VersionInfo struct {
	Major    uint8
	Minor    uint8
	Release  uint8
	Describe string
	Engine   string
	KeyMax   int
	PageSize uint64
}

// Version returns the version string of bucache.
func Version() string {
	return fmt.Sprintf("bucache %d.%d.%d (bbolt storage)", Major, Minor, Patch)
}

// GetVersionInfo returns version and engine information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Major:    Major,
		Minor:    Minor,
		Release:  Patch,
		Describe: fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch),
		Engine:   fmt.Sprintf("bbolt (max key %d)", bolt.MaxKeySize),
		KeyMax:   KeyMaxLen,
		PageSize: sysPageSize(),
	}
}
