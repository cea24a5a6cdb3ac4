package benchmarks

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/tecbot/gorocksdb"
	bolt "go.etcd.io/bbolt"

	"github.com/BRL-CAD/bucache"
)

// Sizes of the pre-populated stores.
var benchSizes = []int{10_000, 100_000}

const valSize = 32

func formatSize(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%dk", n/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// benchKey returns the string key for entry i. Cache keys are strings,
// so every engine gets the same printable keys.
func benchKey(i int) string {
	return fmt.Sprintf("key-%010d", i)
}

func benchVal(buf []byte, i int) []byte {
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}

// openBucache returns a cache holding numKeys entries.
func openBucache(b *testing.B, numKeys int, opts ...bucache.Option) *bucache.Cache {
	b.Helper()
	opts = append([]bucache.Option{
		bucache.WithRoot(b.TempDir()),
		bucache.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	c, err := bucache.Open("bench", true, 1<<30, opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })

	const batchSize = 10_000
	items := make([]bucache.Item, 0, batchSize)
	for i := 0; i < numKeys; i++ {
		items = append(items, bucache.Item{Key: benchKey(i), Data: benchVal(make([]byte, valSize), i)})
		if len(items) == batchSize || i == numKeys-1 {
			if _, err := c.WriteItems(items); err != nil {
				b.Fatal(err)
			}
			items = items[:0]
		}
	}
	return c
}

// openBolt returns a raw bbolt database holding numKeys entries.
func openBolt(b *testing.B, numKeys int) *bolt.DB {
	b.Helper()
	db, err := bolt.Open(filepath.Join(b.TempDir(), "bolt.db"), 0o644, &bolt.Options{
		NoSync:          true,
		InitialMmapSize: 1 << 30,
		FreelistType:    bolt.FreelistMapType,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })

	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte("bench"))
		if err != nil {
			return err
		}
		for i := 0; i < numKeys; i++ {
			if err := bkt.Put([]byte(benchKey(i)), benchVal(make([]byte, valSize), i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return db
}

// openMdbx returns a raw MDBX environment holding numKeys entries.
func openMdbx(b *testing.B, numKeys int) (*mdbxgo.Env, mdbxgo.DBI) {
	b.Helper()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	env.SetOption(mdbxgo.OptMaxDB, 10)
	env.SetGeometry(-1, -1, 1<<32, -1, -1, 4096)
	if err := env.Open(filepath.Join(b.TempDir(), "mdbx.db"), mdbxgo.NoSubdir|mdbxgo.NoMetaSync|mdbxgo.WriteMap, 0o644); err != nil {
		env.Close()
		b.Fatal(err)
	}
	b.Cleanup(func() { env.Close() })

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI("bench", mdbxgo.Create, nil, nil)
	if err != nil {
		txn.Abort()
		b.Fatal(err)
	}
	val := make([]byte, valSize)
	for i := 0; i < numKeys; i++ {
		if err := txn.Put(dbi, []byte(benchKey(i)), benchVal(val, i), mdbxgo.Upsert); err != nil {
			txn.Abort()
			b.Fatal(err)
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
	return env, dbi
}

// openRocks returns a raw RocksDB holding numKeys entries.
func openRocks(b *testing.B, numKeys int) *gorocksdb.DB {
	b.Helper()
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024)

	db, err := gorocksdb.OpenDb(opts, filepath.Join(b.TempDir(), "rocks.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })

	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()
	batch := gorocksdb.NewWriteBatch()
	defer batch.Destroy()

	val := make([]byte, valSize)
	for i := 0; i < numKeys; i++ {
		batch.Put([]byte(benchKey(i)), benchVal(val, i))
	}
	if err := db.Write(wo, batch); err != nil {
		b.Fatal(err)
	}
	return db
}
