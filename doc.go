// Package bucache is a transactional key/value cache stored in a
// memory-mapped file under the user's cache directory.
//
// Each named cache lives in <root>/<name>/ where root comes from a
// RootResolver (by default $BU_DIR_CACHE, the platform user cache
// directory, ~/.cache or the temp directory, suffixed with the
// application name). Inside, a single table maps string keys to opaque
// byte values.
//
// Key features:
//   - Many concurrent readers, bounded by a reader slot table
//   - A single writer per cache; a second writer fails fast with ErrBusy
//   - Commits are synced to disk before they return
//   - Auto-commit calls, or batches held open in a Slot
//
// Basic usage:
//
//	c, err := bucache.Open("lod", true, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	// Auto-commit write, verified by reading it back
//	if _, err := c.Write("greeting", []byte("hello"), nil); err != nil {
//	    log.Fatal(err)
//	}
//
//	data, err := c.Get("greeting", nil)
//	if bucache.IsNotFound(err) {
//	    // miss
//	}
//
//	// Batch several writes in one transaction
//	var s bucache.Slot
//	c.Write("a", []byte("1"), &s)
//	c.Write("b", []byte("2"), &s)
//	if err := c.WriteCommit(&s); err != nil {
//	    log.Fatal(err)
//	}
package bucache
