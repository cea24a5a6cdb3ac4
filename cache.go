package bucache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Cache is an open, named key/value cache.
type Cache struct {
	name   string
	dir    string
	env    *env
	log    *slog.Logger
	verify bool

	mu     sync.Mutex
	closed bool
}

// Item is one entry of a batch write.
type Item struct {
	Key  string
	Data []byte
}

// Open opens the cache called name under the cache root. With create
// set, a missing cache is created, directories included. maxSize is
// the map capacity in bytes, rounded down to a page multiple; zero
// selects DefaultMapSize. Opening a cache that is already open in this
// process shares its environment.
func Open(name string, create bool, maxSize uint64, opts ...Option) (*Cache, error) {
	o := buildOptions(opts)

	dir, err := cachePath(o.resolver, name)
	if err != nil {
		o.logger.Error("resolving cache path failed", "cache", name, "err", err)
		return nil, WrapError(ErrOpen, err)
	}

	e, err := acquireEnv(dir, create, maxSize, o)
	if err != nil {
		return nil, err
	}

	return &Cache{
		name:   name,
		dir:    dir,
		env:    e,
		log:    o.logger.With("cache", name),
		verify: o.verify,
	}, nil
}

// Erase removes the named cache from disk. Erasing a cache that does
// not exist is a no-op.
func Erase(name string, opts ...Option) error {
	o := buildOptions(opts)

	dir, err := cachePath(o.resolver, name)
	if err != nil {
		return WrapError(ErrInvalid, err)
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if isOpen(dir) {
		o.logger.Warn("erasing a cache that is still open", "cache", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Error("erasing cache failed", "cache", name, "err", err)
		return WrapError(ErrIO, err)
	}
	forgetEnv(dir)
	o.logger.Debug("erased cache", "cache", name, "path", dir)
	return nil
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Path returns the cache directory.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) valid() error {
	if c == nil {
		return NewError(ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewError(ErrInvalid)
	}
	return nil
}

// Close closes the cache. It fails with ErrBusy, rather than waiting,
// while any transaction, read or write, is open on the cache's
// environment. This holds whether or not other handles share it.
func (c *Cache) Close() error {
	if c == nil {
		return NewError(ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewError(ErrInvalid)
	}
	if err := releaseEnv(c.env); err != nil {
		c.log.Error("close failed", "err", err)
		return err
	}
	c.closed = true
	return nil
}

// Get returns the value stored under key.
//
// With a nil slot the value is copied and the read transaction ends
// before Get returns. With a slot, the slot's transaction is used (a
// read transaction is started in an empty slot) and the returned slice
// is a view into the map, valid until the slot ends.
func (c *Cache) Get(key string, slot *Slot) ([]byte, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if slot == nil {
		return c.GetOwned(key)
	}
	return c.GetBorrowed(slot, key)
}

// GetOwned returns a copy of the value stored under key.
func (c *Cache) GetOwned(key string) ([]byte, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if err := checkKey(key, c.env.opts.maxKeySize); err != nil {
		c.logKeyError(key, err)
		return nil, err
	}

	t, err := c.env.beginRead(context.Background())
	if err != nil {
		return nil, err
	}
	defer t.Abort()

	v, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// GetBorrowed returns a view of the value under key through slot. The
// view is valid until the slot ends.
func (c *Cache) GetBorrowed(slot *Slot, key string) ([]byte, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, WrapError(ErrBadTxn, errors.New("borrowed read needs a slot"))
	}
	if err := checkKey(key, c.env.opts.maxKeySize); err != nil {
		c.logKeyError(key, err)
		return nil, err
	}

	if err := c.ensureRead(slot); err != nil {
		return nil, err
	}
	return slot.txn.Get(key)
}

// GetDone ends a read transaction held in slot. A write transaction in
// the slot is left alone; it must be committed or aborted.
func (c *Cache) GetDone(slot *Slot) {
	if slot == nil || slot.txn == nil {
		return
	}
	if !slot.txn.readOnly && slot.txn.valid() {
		c.log.Warn("GetDone on a write slot ignored, use WriteCommit or WriteAbort")
		return
	}
	slot.take().Abort()
}

// Write stores data under key and returns len(data).
//
// With a nil slot the write is committed and synced before Write
// returns, then read back in a fresh transaction and compared; a
// mismatch fails with ErrVerify. With a slot, the write joins the
// slot's write transaction (started in an empty slot) and becomes
// visible to others only after WriteCommit.
func (c *Cache) Write(key string, data []byte, slot *Slot) (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	if err := checkKey(key, c.env.opts.maxKeySize); err != nil {
		c.logKeyError(key, err)
		return 0, err
	}

	if slot != nil {
		if err := c.ensureWrite(slot); err != nil {
			return 0, err
		}
		if err := slot.txn.Put(key, data); err != nil {
			c.log.Error("write failed", "key", key, "err", err)
			return 0, err
		}
		return len(data), nil
	}

	t, err := c.env.beginWrite()
	if err != nil {
		return 0, err
	}
	if err := t.Put(key, data); err != nil {
		t.Abort()
		c.log.Error("write failed", "key", key, "err", err)
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}

	if c.verify {
		if err := c.verifyItems([]Item{{Key: key, Data: data}}); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// WriteItems writes a batch in a single transaction and returns the
// number of items written. The batch is verified after commit unless
// verification is disabled.
func (c *Cache) WriteItems(items []Item) (int, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	for _, it := range items {
		if err := checkKey(it.Key, c.env.opts.maxKeySize); err != nil {
			c.logKeyError(it.Key, err)
			return 0, err
		}
	}
	if len(items) == 0 {
		return 0, nil
	}

	t, err := c.env.beginWrite()
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		if err := t.Put(it.Key, it.Data); err != nil {
			t.Abort()
			c.log.Error("batch write failed", "key", it.Key, "err", err)
			return 0, err
		}
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}

	if c.verify {
		if err := c.verifyItems(items); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

// verifyItems reads items back in a new read transaction. Later items
// win over earlier ones with the same key, as they did when written.
func (c *Cache) verifyItems(items []Item) error {
	want := make(map[string][]byte, len(items))
	for _, it := range items {
		want[it.Key] = it.Data
	}

	t, err := c.env.beginRead(context.Background())
	if err != nil {
		c.log.Error("verification read failed", "err", err)
		return WrapError(ErrVerify, err)
	}
	defer t.Abort()

	for key, data := range want {
		got, err := t.Get(key)
		if err != nil {
			c.log.Error("verification read failed", "key", key, "err", err)
			return WrapError(ErrVerify, err)
		}
		if !bytes.Equal(got, data) {
			c.log.Error("stored value differs from written value", "key", key,
				"written", len(data), "stored", len(got))
			return WrapError(ErrVerify, fmt.Errorf("key %q", key))
		}
	}
	return nil
}

// WriteCommit commits the transaction held in slot and empties it.
func (c *Cache) WriteCommit(slot *Slot) error {
	if err := c.valid(); err != nil {
		return err
	}
	if !slot.Active() {
		return WrapError(ErrBadTxn, errors.New("no transaction in slot"))
	}
	return slot.take().Commit()
}

// Begin starts a write transaction in an empty slot, for callers that
// want the writer before the first Write or Clear.
func (c *Cache) Begin(slot *Slot) error {
	if err := c.valid(); err != nil {
		return err
	}
	if slot == nil {
		return WrapError(ErrBadTxn, errors.New("begin needs a slot"))
	}
	if slot.Active() {
		return WrapError(ErrBadTxn, errors.New("slot already holds a transaction"))
	}
	return c.ensureWrite(slot)
}

// WriteAbort discards the transaction held in slot and empties it.
func (c *Cache) WriteAbort(slot *Slot) {
	if slot == nil || slot.txn == nil {
		return
	}
	slot.take().Abort()
}

// Clear removes key. A missing key is not an error. The slot works as
// in Write.
func (c *Cache) Clear(key string, slot *Slot) error {
	if err := c.valid(); err != nil {
		return err
	}
	if err := checkKey(key, c.env.opts.maxKeySize); err != nil {
		c.logKeyError(key, err)
		return err
	}

	if slot != nil {
		if err := c.ensureWrite(slot); err != nil {
			return err
		}
		return slot.txn.Del(key)
	}

	t, err := c.env.beginWrite()
	if err != nil {
		return err
	}
	if err := t.Del(key); err != nil {
		t.Abort()
		return err
	}
	return t.Commit()
}

// ClearItems removes several keys in one transaction.
func (c *Cache) ClearItems(keys []string) error {
	if err := c.valid(); err != nil {
		return err
	}
	for _, key := range keys {
		if err := checkKey(key, c.env.opts.maxKeySize); err != nil {
			c.logKeyError(key, err)
			return err
		}
	}

	t, err := c.env.beginWrite()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.Del(key); err != nil {
			t.Abort()
			return err
		}
	}
	return t.Commit()
}

// Keys returns every key in the cache, sorted.
func (c *Cache) Keys() ([]string, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}

	t, err := c.env.beginRead(context.Background())
	if err != nil {
		return nil, err
	}
	defer t.Abort()

	keys, err := t.Keys()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Stat reports geometry and usage of the cache.
func (c *Cache) Stat() (Stat, error) {
	if err := c.valid(); err != nil {
		return Stat{}, err
	}
	return c.env.stat(context.Background())
}

// SetMapSize changes the map capacity. It fails with ErrBusy while any
// transaction is open.
func (c *Cache) SetMapSize(size uint64) error {
	if err := c.valid(); err != nil {
		return err
	}
	return c.env.setMapSize(size)
}

// Compact rewrites the backing file to drop free pages. It fails with
// ErrBusy while any transaction is open.
func (c *Cache) Compact() error {
	if err := c.valid(); err != nil {
		return err
	}
	return c.env.compact()
}

// ensureRead puts a read transaction into an empty slot. A slot that
// already holds a transaction of either kind is used as is.
func (c *Cache) ensureRead(slot *Slot) error {
	if slot.Active() {
		if slot.txn.env != c.env {
			return WrapError(ErrBadTxn, errors.New("slot belongs to another cache"))
		}
		return nil
	}
	t, err := c.env.beginRead(context.Background())
	if err != nil {
		return err
	}
	slot.txn = t
	return nil
}

// ensureWrite puts a write transaction into an empty slot.
func (c *Cache) ensureWrite(slot *Slot) error {
	if slot.Active() {
		if slot.txn.env != c.env {
			return WrapError(ErrBadTxn, errors.New("slot belongs to another cache"))
		}
		if slot.txn.readOnly {
			return WrapError(ErrBadTxn, errors.New("slot holds a read transaction, call GetDone first"))
		}
		return nil
	}
	t, err := c.env.beginWrite()
	if err != nil {
		return err
	}
	slot.txn = t
	return nil
}

func (c *Cache) logKeyError(key string, err error) {
	switch Code(err) {
	case ErrKeyTooLong:
		c.log.Warn("key too long", "len", len(key), "limit", KeyMaxLen)
	case ErrIncompatible:
		c.log.Error("engine key limit is below the API key limit", "limit", KeyMaxLen, "err", err)
	default:
		c.log.Warn("invalid key", "err", err)
	}
}
