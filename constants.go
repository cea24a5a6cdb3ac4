package bucache

import (
	"os"
	"time"
)

// Key limits
const (
	// KeyMaxLen is the longest key accepted by the API, in bytes.
	// It matches the default key limit of LMDB-style engines.
	KeyMaxLen = 511

	// DefaultMaxKeySize is the engine key limit used when none is configured.
	DefaultMaxKeySize = KeyMaxLen
)

// Map geometry
const (
	// DefaultMapSize is the map capacity used when Open is given zero.
	DefaultMapSize uint64 = 1 << 30

	// DefaultPageSize is used if the OS cannot report one.
	DefaultPageSize = 4096

	// leafOverhead is the engine's per-entry header in a leaf page.
	leafOverhead = 16

	// cowSlackPages covers the branch pages a commit rewrites along the
	// path to each modified leaf.
	cowSlackPages = 4
)

// Retry policy for transaction acquisition
const (
	// ReadTimeout bounds the wait for a free reader slot.
	ReadTimeout = 5 * time.Second

	// ReadRetryInterval is the cadence at which a blocked reader reports
	// that it is still waiting.
	ReadRetryInterval = 200 * time.Millisecond

	// WriteRetryDelay is the single backoff before retrying a failed
	// write transaction begin.
	WriteRetryDelay = 200 * time.Millisecond

	// DefaultOpenTimeout bounds the wait for the engine's file lock.
	DefaultOpenTimeout = 5 * time.Second
)

// On-disk layout
const (
	// DataFileName is the backing file inside a cache directory.
	DataFileName = "data.db"

	// DefaultAppName is the directory under the platform cache root.
	DefaultAppName = "BRL-CAD"

	// RootEnvVar overrides the cache root when set.
	RootEnvVar = "BU_DIR_CACHE"

	// DefaultFileMode is the permission of the backing file.
	DefaultFileMode os.FileMode = 0o644

	// DefaultDirMode is the permission of created directories.
	DefaultDirMode os.FileMode = 0o755
)

// tableName names the single table inside an environment. The engine
// requires a non-empty name; callers never see it.
var tableName = []byte("main")
