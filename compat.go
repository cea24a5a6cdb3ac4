package bucache

// TxnOp is a function that operates on a transaction held in a slot.
// This is the callback type for View and Update.
type TxnOp func(s *Slot) error

// View runs fn with a read transaction in a fresh slot. Values read
// through the slot are valid only inside fn.
func (c *Cache) View(fn TxnOp) error {
	if err := c.valid(); err != nil {
		return err
	}
	var s Slot
	if err := c.ensureRead(&s); err != nil {
		return err
	}
	defer c.GetDone(&s)
	return fn(&s)
}

// Update runs fn with a write transaction in a fresh slot.
// The transaction is committed when fn returns nil,
// or aborted when fn returns an error.
func (c *Cache) Update(fn TxnOp) error {
	if err := c.valid(); err != nil {
		return err
	}
	var s Slot
	if err := c.ensureWrite(&s); err != nil {
		return err
	}
	if err := fn(&s); err != nil {
		c.WriteAbort(&s)
		return err
	}
	if !s.Active() {
		// fn ended the transaction itself
		return nil
	}
	return c.WriteCommit(&s)
}
