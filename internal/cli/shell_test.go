package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BRL-CAD/bucache"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()
	c, err := bucache.Open("shell", true, 0, bucache.WithRoot(t.TempDir()))
	require.NoError(t, err)

	var out bytes.Buffer
	r := &REPL{cache: c, io: NewIO(strings.NewReader(""), &out, &out)}
	t.Cleanup(func() {
		r.finish()
		_ = c.Close()
	})
	return r, &out
}

func TestShellPutGet(t *testing.T) {
	r, out := newTestREPL(t)

	require.False(t, r.exec("put k hello world"))
	require.Contains(t, out.String(), "wrote 11 bytes")

	out.Reset()
	r.exec("get k")
	require.Equal(t, "\"hello world\"\n", out.String())

	out.Reset()
	r.exec("del k")
	r.exec("get k")
	require.Contains(t, out.String(), "not found")
}

func TestShellBatch(t *testing.T) {
	r, out := newTestREPL(t)

	r.exec("begin")
	require.True(t, r.batch.Active())
	require.Contains(t, r.prompt(), "(batch)")

	r.exec("put a 1")
	r.exec("put b 2")

	// Reads inside the batch see pending writes
	out.Reset()
	r.exec("get a")
	require.Equal(t, "\"1\"\n", out.String())

	// Others do not
	_, err := r.cache.Get("a", nil)
	require.True(t, bucache.IsNotFound(err))

	out.Reset()
	r.exec("begin")
	require.Contains(t, out.String(), "already open")

	r.exec("commit")
	require.False(t, r.batch.Active())

	v, err := r.cache.Get("b", nil)
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestShellAbort(t *testing.T) {
	r, out := newTestREPL(t)

	r.exec("begin")
	r.exec("put gone 1")
	r.exec("abort")
	require.False(t, r.batch.Active())

	_, err := r.cache.Get("gone", nil)
	require.True(t, bucache.IsNotFound(err))

	out.Reset()
	r.exec("abort")
	require.Contains(t, out.String(), "no batch open")

	out.Reset()
	r.exec("commit")
	require.Contains(t, out.String(), "error:")
}

func TestShellFinishAbortsBatch(t *testing.T) {
	r, out := newTestREPL(t)

	r.exec("begin")
	r.exec("put pending 1")
	r.finish()
	require.Contains(t, out.String(), "uncommitted batch aborted")

	_, err := r.cache.Get("pending", nil)
	require.True(t, bucache.IsNotFound(err))
}

func TestShellMisc(t *testing.T) {
	r, out := newTestREPL(t)

	r.exec("put x 1")
	out.Reset()
	r.exec("keys")
	require.Contains(t, out.String(), "x\n(1 keys)")

	out.Reset()
	r.exec("stat")
	require.Regexp(t, `entries\s+1`, out.String())

	out.Reset()
	r.exec("nope")
	require.Contains(t, out.String(), "unknown command: nope")

	out.Reset()
	r.exec("help")
	require.Contains(t, out.String(), "begin")

	require.True(t, r.exec("exit"))
	require.Equal(t, []string{"begin"}, r.completer("be"))
}
