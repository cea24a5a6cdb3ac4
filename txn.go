package bucache

import (
	bolt "go.etcd.io/bbolt"
)

// txn wraps one engine transaction together with the environment
// bookkeeping it holds: a reader slot or the write-active flag.
type txn struct {
	env      *env
	tx       *bolt.Tx
	table    *bolt.Bucket
	readOnly bool
	slot     int32 // Reader slot, -1 for write transactions
	done     bool
	pending  int64 // Bytes put so far
}

func newTxn(e *env, tx *bolt.Tx, slot int32) *txn {
	return &txn{
		env:      e,
		tx:       tx,
		table:    tx.Bucket(tableName),
		readOnly: !tx.Writable(),
		slot:     slot,
	}
}

// valid returns true if the transaction can still be used.
func (t *txn) valid() bool {
	return t != nil && !t.done && t.table != nil
}

// ID returns the engine transaction ID.
func (t *txn) ID() int {
	return t.tx.ID()
}

// IsReadOnly returns true for read transactions.
func (t *txn) IsReadOnly() bool {
	return t.readOnly
}

// Commit makes a write transaction durable: the engine commit is
// followed by an explicit sync. A commit that would grow the file past
// the map size is rolled back with ErrMapFull. Committing a read
// transaction just ends it.
func (t *txn) Commit() error {
	if t == nil || t.done {
		return NewError(ErrBadTxn)
	}
	if t.readOnly {
		t.Abort()
		return nil
	}

	t.done = true
	defer t.env.clearWriteActive()

	if err := t.env.checkMapSize(t.tx, t.pending); err != nil {
		t.env.log.Warn("commit exceeds map size, rolled back", "err", err)
		if rbErr := t.tx.Rollback(); rbErr != nil {
			t.env.log.Debug("rollback failed", "err", rbErr)
		}
		return err
	}
	if err := t.tx.Commit(); err != nil {
		t.env.log.Error("commit failed", "err", err)
		return engineError(err)
	}
	if err := t.env.sync(); err != nil {
		t.env.log.Error("sync after commit failed", "err", err)
		return err
	}
	return nil
}

// Abort discards the transaction. Safe to call more than once.
func (t *txn) Abort() {
	if t == nil || t.done {
		return
	}
	t.done = true

	if err := t.tx.Rollback(); err != nil {
		t.env.log.Debug("rollback failed", "err", err)
	}
	if t.readOnly {
		t.env.readers.release(t.slot)
	} else {
		t.env.clearWriteActive()
	}
}
