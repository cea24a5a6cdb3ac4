package bucache

import (
	"context"
	"sync"
	"time"
)

// readerSlot records one active read transaction.
type readerSlot struct {
	txnID int       // Engine snapshot ID
	since time.Time // When the slot was taken
	inUse bool
}

// ReaderInfo describes an active reader, as reported by Stat.
type ReaderInfo struct {
	Slot  int
	TxnID int
	Since time.Time
}

// readerTable bounds concurrent read transactions. Free slot indices
// live in a buffered channel, so a blocked reader is woken by the
// release that frees a slot instead of polling.
type readerTable struct {
	mu    sync.Mutex
	slots []readerSlot
	free  chan int32
}

func newReaderTable(n int) *readerTable {
	if n < 1 {
		n = 1
	}
	rt := &readerTable{
		slots: make([]readerSlot, n),
		free:  make(chan int32, n),
	}
	for i := 0; i < n; i++ {
		rt.free <- int32(i)
	}
	return rt
}

// size returns the number of slots.
func (rt *readerTable) size() int {
	return len(rt.slots)
}

// acquire takes a free slot, waiting up to timeout. onWait is called
// every ReadRetryInterval while waiting.
func (rt *readerTable) acquire(ctx context.Context, timeout time.Duration, onWait func(waited time.Duration)) (int32, error) {
	// Fast path
	select {
	case idx := <-rt.free:
		rt.mark(idx)
		return idx, nil
	default:
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(ReadRetryInterval)
	defer tick.Stop()

	for {
		select {
		case idx := <-rt.free:
			rt.mark(idx)
			return idx, nil
		case <-tick.C:
			if onWait != nil {
				onWait(time.Since(start))
			}
		case <-deadline.C:
			return -1, NewError(ErrReadersFull)
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

func (rt *readerTable) mark(idx int32) {
	rt.mu.Lock()
	rt.slots[idx] = readerSlot{since: time.Now(), inUse: true}
	rt.mu.Unlock()
}

// setTxnID records the snapshot a slot reads from.
func (rt *readerTable) setTxnID(idx int32, id int) {
	rt.mu.Lock()
	rt.slots[idx].txnID = id
	rt.mu.Unlock()
}

// release returns a slot to the free list.
func (rt *readerTable) release(idx int32) {
	if idx < 0 || int(idx) >= len(rt.slots) {
		return
	}
	rt.mu.Lock()
	if !rt.slots[idx].inUse {
		rt.mu.Unlock()
		return
	}
	rt.slots[idx] = readerSlot{}
	rt.mu.Unlock()
	rt.free <- idx
}

// inUse returns the number of taken slots.
func (rt *readerTable) inUse() int {
	return len(rt.slots) - len(rt.free)
}

// list reports every active reader.
func (rt *readerTable) list() []ReaderInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var out []ReaderInfo
	for i, s := range rt.slots {
		if s.inUse {
			out = append(out, ReaderInfo{Slot: i, TxnID: s.txnID, Since: s.since})
		}
	}
	return out
}
