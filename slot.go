package bucache

// Slot holds a transaction open across several Cache calls. The zero
// value is an empty slot. Passing a nil *Slot selects the auto-commit
// form of a call.
//
// A slot belongs to one goroutine at a time. Values returned through a
// slot stay valid until the slot ends with WriteCommit, WriteAbort or
// GetDone.
type Slot struct {
	txn *txn
}

// Active returns true if the slot holds an open transaction.
func (s *Slot) Active() bool {
	return s != nil && s.txn.valid()
}

// ReadOnly returns true if the slot holds a read transaction.
func (s *Slot) ReadOnly() bool {
	return s.Active() && s.txn.readOnly
}

// take removes the transaction from the slot.
func (s *Slot) take() *txn {
	t := s.txn
	s.txn = nil
	return t
}
