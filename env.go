package bucache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// minMapPages is the smallest map the engine can initialize into:
// two meta pages, a freelist page, the root leaf and the table.
const minMapPages = 8

// env is the storage environment behind one cache directory. Exactly
// one env exists per directory in a process; see registry.go.
type env struct {
	dir  string // Cache directory
	file string // Backing file
	log  *slog.Logger
	opts *options

	// mu guards db against Close, Compact and SetMapSize. Transaction
	// begins hold it shared; the transactions themselves do not.
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
	fi     os.FileInfo // Identity of the mapped file

	// beginTx starts engine transactions; nil uses db.Begin.
	beginTx func(db *bolt.DB, writable bool) (*bolt.Tx, error)

	pageSize   uint64
	mapSize    atomic.Uint64
	maxReaders int
	readers    *readerTable

	// Map generation, bumped whenever the mapping is replaced. seenGen is
	// the generation the read path last applied.
	mapGen  atomic.Uint64
	seenGen atomic.Uint64

	// Write transaction state
	txnMu       sync.Mutex
	writeActive bool

	refs int // Registry references, guarded by registry.mu
}

// roundMapSize rounds size down to a page multiple. Zero selects the
// default capacity.
func roundMapSize(size, pageSize uint64) uint64 {
	if size == 0 {
		size = DefaultMapSize
	}
	size -= size % pageSize
	if floor := minMapPages * pageSize; size < floor {
		size = floor
	}
	return size
}

// initialMmapSize picks the largest mapping the engine will not round
// past mapSize: a power of two below 1GiB, whole GiB steps above it.
func initialMmapSize(mapSize uint64) int {
	const step = 1 << 30
	if mapSize >= step {
		return int(mapSize - mapSize%step)
	}
	return int(uint64(1) << (bits.Len64(mapSize) - 1))
}

// readerLimit sizes the reader table from the CPU count.
func readerLimit(cpus int) int {
	return max(1, cpus+2)
}

// openEnv maps the backing file inside dir, creating the directory
// tree and the table when create is set.
func openEnv(dir string, create bool, maxSize uint64, o *options) (*env, error) {
	e := &env{
		dir:  dir,
		file: filepath.Join(dir, DataFileName),
		log:  o.logger.With("path", dir),
		opts: o,
	}

	var created bool
	if _, err := os.Stat(e.file); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, WrapError(ErrOpen, err)
		}
		if !create || o.readOnly {
			e.log.Debug("cache does not exist")
			return nil, WrapError(ErrOpen, err)
		}
		if err := os.MkdirAll(dir, o.dirMode); err != nil {
			e.log.Error("creating cache directory failed", "err", err)
			return nil, WrapError(ErrOpen, err)
		}
		created = true
	}

	e.pageSize = sysPageSize()
	e.mapSize.Store(roundMapSize(maxSize, e.pageSize))
	e.maxReaders = readerLimit(o.cpuCount())
	e.readers = newReaderTable(e.maxReaders)

	if err := e.openDB(); err != nil {
		var errs []error
		errs = append(errs, err)
		if created {
			if rmErr := os.Remove(e.file); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				errs = append(errs, rmErr)
			}
		}
		err = errors.Join(errs...)
		e.log.Error("opening cache failed", "err", err)
		return nil, WrapError(ErrOpen, err)
	}

	e.log.Debug("opened cache",
		"map_size", e.mapSize.Load(),
		"page_size", e.pageSize,
		"max_readers", e.maxReaders,
		"created", created)
	return e, nil
}

// openDB opens the engine and makes sure the table exists. On failure
// nothing stays open. A read-only open takes a shared file lock and
// requires the table to exist already.
func (e *env) openDB() error {
	mapSize := e.mapSize.Load()
	db, err := bolt.Open(e.file, e.opts.fileMode, &bolt.Options{
		Timeout:         e.opts.openTimeout,
		NoSync:          true,
		ReadOnly:        e.opts.readOnly,
		InitialMmapSize: initialMmapSize(mapSize),
		FreelistType:    bolt.FreelistMapType,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", e.file, err)
	}

	fi, err := os.Stat(e.file)
	if err != nil {
		return errors.Join(fmt.Errorf("stat: %w", err), db.Close())
	}

	if e.opts.readOnly {
		err := db.View(func(tx *bolt.Tx) error {
			if tx.Bucket(tableName) == nil {
				return errors.New("table missing")
			}
			return nil
		})
		if err != nil {
			return errors.Join(err, db.Close())
		}
		e.db, e.fi = db, fi
		return nil
	}

	tx, err := db.Begin(true)
	if err != nil {
		return errors.Join(fmt.Errorf("begin table txn: %w", err), db.Close())
	}
	if _, err := tx.CreateBucketIfNotExists(tableName); err != nil {
		return errors.Join(fmt.Errorf("create table: %w", err), tx.Rollback(), db.Close())
	}
	if err := tx.Commit(); err != nil {
		return errors.Join(fmt.Errorf("commit table txn: %w", err), db.Close())
	}
	if err := db.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync: %w", err), db.Close())
	}

	e.db, e.fi = db, fi
	return nil
}

// stale reports whether the backing file was removed or replaced
// behind the environment's back.
func (e *env) stale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || e.fi == nil {
		return true
	}
	fi, err := os.Stat(e.file)
	return err != nil || !os.SameFile(fi, e.fi)
}

// begin starts an engine transaction through the hook, if any.
func (e *env) begin(writable bool) (*bolt.Tx, error) {
	if e.beginTx != nil {
		return e.beginTx(e.db, writable)
	}
	return e.db.Begin(writable)
}

// checkMapSize estimates the high-water mark a commit will reach and
// fails with ErrMapFull if it passes the map size. pending is the
// number of bytes put by the transaction. Free pages count as room.
func (e *env) checkMapSize(tx *bolt.Tx, pending int64) error {
	pageSize := int64(tx.DB().Info().PageSize)
	free := int64(tx.DB().Stats().FreePageN) * pageSize

	used := tx.Size() - free
	if used < 0 {
		used = 0
	}
	grow := (pending + pageSize - 1) / pageSize * pageSize
	need := used + grow + cowSlackPages*pageSize

	if limit := e.mapSize.Load(); uint64(need) > limit {
		return WrapError(ErrMapFull, fmt.Errorf("commit needs about %d bytes, map size %d", need, limit))
	}
	return nil
}

// busy reports why the environment cannot be closed or remapped now.
// Caller holds txnMu.
func (e *env) busyLocked() error {
	if e.writeActive {
		return NewError(ErrBusy)
	}
	if n := e.readers.inUse(); n > 0 {
		return WrapError(ErrBusy, fmt.Errorf("%d read transactions active", n))
	}
	return nil
}

// close syncs and unmaps. It refuses, without waiting, while any
// transaction is open.
func (e *env) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.txnMu.Lock()
	defer e.txnMu.Unlock()
	if err := e.busyLocked(); err != nil {
		e.log.Warn("cannot close cache with an open transaction, commit or abort it first", "err", err)
		return err
	}

	var errs []error
	if !e.opts.readOnly {
		if err := e.db.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync: %w", err))
		}
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	e.db = nil
	e.closed = true

	if err := errors.Join(errs...); err != nil {
		e.log.Error("closing cache failed", "err", err)
		return WrapError(ErrIO, err)
	}
	e.log.Debug("closed cache")
	return nil
}

// beginRead starts a read transaction, waiting for a reader slot.
func (e *env) beginRead(ctx context.Context) (*txn, error) {
	t, err := e.tryBeginRead(ctx)
	if err != nil && Code(err) == ErrMapResized {
		e.log.Debug("map resized, re-applying", "generation", e.mapGen.Load())
		e.seenGen.Store(e.mapGen.Load())
		t, err = e.tryBeginRead(ctx)
	}
	return t, err
}

func (e *env) tryBeginRead(ctx context.Context) (*txn, error) {
	if gen := e.mapGen.Load(); gen != e.seenGen.Load() {
		return nil, NewError(ErrMapResized)
	}

	slot, err := e.readers.acquire(ctx, e.opts.readTimeout, func(waited time.Duration) {
		e.log.Debug("waiting for reader slot", "waited", waited, "max_readers", e.maxReaders)
	})
	if err != nil {
		e.log.Warn("no reader slot available", "timeout", e.opts.readTimeout, "max_readers", e.maxReaders)
		return nil, WrapError(ErrTimeout, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.readers.release(slot)
		return nil, NewError(ErrInvalid)
	}

	tx, err := e.begin(false)
	if err != nil {
		e.readers.release(slot)
		e.log.Error("begin read transaction failed", "err", err)
		return nil, engineError(err)
	}
	e.readers.setTxnID(slot, tx.ID())

	return newTxn(e, tx, slot), nil
}

// beginWrite starts the single write transaction. A second writer
// fails at once with ErrBusy.
func (e *env) beginWrite() (*txn, error) {
	if e.opts.readOnly {
		return nil, NewError(ErrReadOnly)
	}

	e.txnMu.Lock()
	if e.writeActive {
		e.txnMu.Unlock()
		e.log.Warn("write transaction already active, commit or abort it first")
		return nil, NewError(ErrBusy)
	}
	e.writeActive = true
	e.txnMu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.clearWriteActive()
		return nil, NewError(ErrInvalid)
	}

	tx, err := e.begin(true)
	if err != nil {
		first := err
		e.log.Debug("begin write transaction failed, retrying", "err", err, "delay", WriteRetryDelay)
		time.Sleep(WriteRetryDelay)
		tx, err = e.begin(true)
		if err != nil {
			e.clearWriteActive()
			err = errors.Join(first, err)
			e.log.Error("begin write transaction failed", "err", err)
			return nil, WrapError(ErrTimeout, err)
		}
	}

	return newTxn(e, tx, -1), nil
}

func (e *env) clearWriteActive() {
	e.txnMu.Lock()
	e.writeActive = false
	e.txnMu.Unlock()
}

// isWriteActive reports the write sub-state.
func (e *env) isWriteActive() bool {
	e.txnMu.Lock()
	defer e.txnMu.Unlock()
	return e.writeActive
}

// sync flushes the map to disk.
func (e *env) sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return NewError(ErrInvalid)
	}
	if e.opts.readOnly {
		return nil
	}
	if err := e.db.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

// exclusive runs fn with no transaction open and none able to start,
// then bumps the map generation.
func (e *env) exclusive(op string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewError(ErrInvalid)
	}

	e.txnMu.Lock()
	defer e.txnMu.Unlock()
	if err := e.busyLocked(); err != nil {
		e.log.Warn("cannot "+op+" with an open transaction", "err", err)
		return err
	}

	err := fn()
	e.mapGen.Add(1)
	return err
}

// reopen closes the engine and opens it again with the current map
// size. Caller holds mu exclusively. If the reopen fails the
// environment is left closed.
func (e *env) reopen() error {
	if err := e.db.Close(); err != nil {
		e.db = nil
		e.closed = true
		return WrapError(ErrIO, err)
	}
	e.db = nil
	if err := e.openDB(); err != nil {
		e.closed = true
		e.log.Error("reopening cache failed", "err", err)
		return WrapError(ErrOpen, err)
	}
	return nil
}

// setMapSize changes the maximum map size. No transaction may be open.
func (e *env) setMapSize(size uint64) error {
	return e.exclusive("resize", func() error {
		old := e.mapSize.Load()
		e.mapSize.Store(roundMapSize(size, e.pageSize))
		if err := e.reopen(); err != nil {
			return err
		}
		e.log.Info("map resized", "from", old, "to", e.mapSize.Load())
		return nil
	})
}

// compact rewrites the backing file without free pages.
func (e *env) compact() error {
	if e.opts.readOnly {
		return NewError(ErrReadOnly)
	}
	return e.exclusive("compact", func() error {
		tmp := e.file + ".compact"
		_ = os.Remove(tmp)

		before := fileSize(e.file)
		dst, err := bolt.Open(tmp, e.opts.fileMode, &bolt.Options{
			Timeout: e.opts.openTimeout,
			NoSync:  true,
		})
		if err != nil {
			return WrapError(ErrIO, err)
		}
		if err := bolt.Compact(dst, e.db, 0); err != nil {
			return WrapError(ErrIO, errors.Join(err, dst.Close(), os.Remove(tmp)))
		}
		if err := dst.Sync(); err != nil {
			return WrapError(ErrIO, errors.Join(err, dst.Close(), os.Remove(tmp)))
		}
		if err := dst.Close(); err != nil {
			return WrapError(ErrIO, errors.Join(err, os.Remove(tmp)))
		}

		if err := e.db.Close(); err != nil {
			e.db = nil
			e.closed = true
			return WrapError(ErrIO, errors.Join(err, os.Remove(tmp)))
		}
		e.db = nil
		if err := os.Rename(tmp, e.file); err != nil {
			e.log.Error("replacing backing file failed", "err", err)
			if openErr := e.openDB(); openErr != nil {
				e.closed = true
				return WrapError(ErrOpen, errors.Join(err, openErr))
			}
			return WrapError(ErrIO, err)
		}
		if err := e.openDB(); err != nil {
			e.closed = true
			return WrapError(ErrOpen, err)
		}

		e.log.Info("compacted cache", "before", before, "after", fileSize(e.file))
		return nil
	})
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Stat reports environment geometry and usage.
type Stat struct {
	Path        string
	PageSize    uint64
	MapSize     uint64
	FileSize    int64
	MaxReaders  int
	Readers     []ReaderInfo
	Entries     int
	WriteActive bool
	Generation  uint64
}

func (e *env) stat(ctx context.Context) (Stat, error) {
	t, err := e.beginRead(ctx)
	if err != nil {
		return Stat{}, err
	}
	defer t.Abort()

	return Stat{
		Path:        e.dir,
		PageSize:    e.pageSize,
		MapSize:     e.mapSize.Load(),
		FileSize:    fileSize(e.file),
		MaxReaders:  e.maxReaders,
		Readers:     e.readers.list(),
		Entries:     t.Len(),
		WriteActive: e.isWriteActive(),
		Generation:  e.mapGen.Load(),
	}, nil
}

// engineError maps an engine error onto a bucache error code.
func engineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, berrors.ErrDatabaseReadOnly):
		return WrapError(ErrReadOnly, err)
	case errors.Is(err, berrors.ErrDatabaseNotOpen):
		return WrapError(ErrInvalid, err)
	case errors.Is(err, berrors.ErrTxClosed), errors.Is(err, berrors.ErrTxNotWritable):
		return WrapError(ErrBadTxn, err)
	case errors.Is(err, berrors.ErrKeyTooLarge):
		return WrapError(ErrKeyTooLong, err)
	case errors.Is(err, berrors.ErrTimeout):
		return WrapError(ErrTimeout, err)
	default:
		return WrapError(ErrIO, err)
	}
}
