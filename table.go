package bucache

import (
	"bytes"
	"fmt"
)

// checkKey validates a key against the API and engine limits.
func checkKey(key string, maxKeySize int) error {
	if maxKeySize < KeyMaxLen {
		return WrapError(ErrIncompatible,
			fmt.Errorf("engine key limit %d < %d", maxKeySize, KeyMaxLen))
	}
	if len(key) == 0 {
		return NewError(ErrBadValSize)
	}
	if len(key) > KeyMaxLen {
		return WrapError(ErrKeyTooLong, fmt.Errorf("%d bytes, limit %d", len(key), KeyMaxLen))
	}
	return nil
}

// Get returns the value stored under key. The slice points into the
// map and is valid only until the transaction ends. Zero-length values
// are returned as empty, non-nil slices.
func (t *txn) Get(key string) ([]byte, error) {
	if !t.valid() {
		return nil, NewError(ErrBadTxn)
	}
	if err := checkKey(key, t.env.opts.maxKeySize); err != nil {
		return nil, err
	}

	k := []byte(key)
	ck, v := t.table.Cursor().Seek(k)
	if ck == nil || !bytes.Equal(ck, k) {
		return nil, NewError(ErrNotFound)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

// Put stores value under key, replacing any previous value. The value
// is copied because the engine keeps a reference until commit.
func (t *txn) Put(key string, value []byte) error {
	if !t.valid() {
		return NewError(ErrBadTxn)
	}
	if t.readOnly {
		return WrapError(ErrBadTxn, fmt.Errorf("put in read transaction"))
	}
	if err := checkKey(key, t.env.opts.maxKeySize); err != nil {
		return err
	}

	v := make([]byte, len(value))
	copy(v, value)
	if err := t.table.Put([]byte(key), v); err != nil {
		return engineError(err)
	}
	t.pending += int64(len(key)+len(v)) + leafOverhead
	return nil
}

// Del removes key. A missing key is not an error.
func (t *txn) Del(key string) error {
	if !t.valid() {
		return NewError(ErrBadTxn)
	}
	if t.readOnly {
		return WrapError(ErrBadTxn, fmt.Errorf("delete in read transaction"))
	}
	if err := checkKey(key, t.env.opts.maxKeySize); err != nil {
		return err
	}

	if err := t.table.Delete([]byte(key)); err != nil {
		return engineError(err)
	}
	return nil
}

// Keys scans the table from first to last key.
func (t *txn) Keys() ([]string, error) {
	if !t.valid() {
		return nil, NewError(ErrBadTxn)
	}

	seen := make(map[string]struct{})
	var keys []string
	c := t.table.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		s := string(k)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		keys = append(keys, s)
	}
	return keys, nil
}

// Len returns the number of entries in the table.
func (t *txn) Len() int {
	if !t.valid() {
		return 0
	}
	return t.table.Stats().KeyN
}
