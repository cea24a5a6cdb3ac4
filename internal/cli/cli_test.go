package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testCLI runs the CLI against a private cache root and config home.
type testCLI struct {
	t    *testing.T
	Root string
	Env  map[string]string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	return &testCLI{
		t:    t,
		Root: t.TempDir(),
		Env:  map[string]string{"XDG_CONFIG_HOME": t.TempDir()},
	}
}

func (c *testCLI) runWithInput(in io.Reader, args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer
	full := append([]string{"bucache", "--root", c.Root}, args...)
	code := Run(in, &outBuf, &errBuf, full, c.Env)
	return outBuf.String(), errBuf.String(), code
}

func (c *testCLI) run(args ...string) (string, string, int) {
	return c.runWithInput(strings.NewReader(""), args...)
}

func (c *testCLI) mustRun(args ...string) string {
	c.t.Helper()
	stdout, stderr, code := c.run(args...)
	require.Equal(c.t, 0, code, "command %v failed\nstderr: %s", args, stderr)
	return stdout
}

func (c *testCLI) mustFail(args ...string) string {
	c.t.Helper()
	_, stderr, code := c.run(args...)
	require.Equal(c.t, 1, code, "command %v should fail", args)
	return stderr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPutGet(t *testing.T) {
	c := newTestCLI(t)

	c.mustRun("put", "geom", "sphere", "radius=3")
	require.Equal(t, "radius=3", c.mustRun("get", "geom", "sphere"))

	require.FileExists(t, filepath.Join(c.Root, "geom", "data.db"))
}

func TestPutFromFileAndStdin(t *testing.T) {
	c := newTestCLI(t)

	src := filepath.Join(t.TempDir(), "value.bin")
	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	c.mustRun("put", "bin", "k", "-f", src)
	require.Equal(t, string(payload), c.mustRun("get", "bin", "k"))

	_, stderr, code := c.runWithInput(strings.NewReader("from stdin"), "put", "bin", "s", "--file", "-")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "from stdin", c.mustRun("get", "bin", "s"))

	stderr = c.mustFail("put", "bin", "k", "value", "-f", src)
	require.Contains(t, stderr, "not both")
}

func TestGetToFile(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("put", "out", "k", "exported")

	dst := filepath.Join(t.TempDir(), "value.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old contents"), 0o644))

	require.Empty(t, c.mustRun("get", "out", "k", "-o", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "exported", string(got))
}

func TestGetMissing(t *testing.T) {
	c := newTestCLI(t)

	stderr := c.mustFail("get", "nocache", "k")
	require.Contains(t, stderr, "error:")
	require.NoDirExists(t, filepath.Join(c.Root, "nocache"))

	c.mustRun("put", "exists", "a", "1")
	stderr = c.mustFail("get", "exists", "b")
	require.Contains(t, stderr, "not found")
}

func TestKeysAndDel(t *testing.T) {
	c := newTestCLI(t)
	for _, k := range []string{"c", "a", "b"} {
		c.mustRun("put", "ks", k, "v")
	}

	require.Equal(t, "a\nb\nc\n", c.mustRun("keys", "ks"))

	c.mustRun("del", "ks", "a", "c", "missing")
	require.Equal(t, "b\n", c.mustRun("keys", "ks"))
}

func TestErase(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("put", "tmp", "k", "v")

	c.mustRun("erase", "tmp")
	require.NoDirExists(t, filepath.Join(c.Root, "tmp"))

	// Erasing again is not an error
	c.mustRun("erase", "tmp")
}

func TestStat(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("put", "st", "a", "1")
	c.mustRun("put", "st", "b", "2")

	out := c.mustRun("stat", "st")
	require.Regexp(t, `entries\s+2`, out)
	require.Regexp(t, `write_active\s+false`, out)
}

func TestCompact(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("put", "cr", "a", "1")
	c.mustRun("put", "cr", "b", "2")
	c.mustRun("del", "cr", "b")

	c.mustRun("compact", "cr")
	require.Equal(t, "1", c.mustRun("get", "cr", "a"))
	require.Equal(t, "a\n", c.mustRun("keys", "cr"))

	c.mustFail("compact", "missing")
}

func TestMaxSizeFlag(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun("--max-size", "4194304", "put", "sized", "a", "1")
	require.Regexp(t, `map_size\s+4194304`, c.mustRun("--max-size", "4194304", "stat", "sized"))
}

func TestUsageErrors(t *testing.T) {
	c := newTestCLI(t)

	out := c.mustRun()
	require.Contains(t, out, "Commands:")

	stderr := c.mustFail("frobnicate")
	require.Contains(t, stderr, "unknown command: frobnicate")

	stderr = c.mustFail("get", "only-name")
	require.Contains(t, stderr, "missing arguments")

	out = c.mustRun("get", "--help")
	require.Contains(t, out, "Usage: bucache get")

	long := strings.Repeat("k", 600)
	stderr = c.mustFail("put", "limits", long, "v")
	require.Contains(t, stderr, "key")
}

func TestVersion(t *testing.T) {
	c := newTestCLI(t)
	require.Contains(t, c.mustRun("version"), "bucache 0.1.0")
}

func TestConfigPrecedence(t *testing.T) {
	c := newTestCLI(t)

	global := filepath.Join(c.Env["XDG_CONFIG_HOME"], "bucache", "config.json")
	writeFile(t, global, `{
		// global settings
		"log_level": "error",
		"max_size": 2097152,
	}`)

	out := c.mustRun("print-config")
	require.Contains(t, out, `"log_level": "error"`)
	require.Contains(t, out, `"max_size": 2097152`)
	require.Contains(t, out, "# from "+global)

	explicit := filepath.Join(t.TempDir(), "custom.json")
	writeFile(t, explicit, `{"max_size": 4194304, "verify": false}`)

	out = c.mustRun("-c", explicit, "print-config")
	require.Contains(t, out, `"log_level": "error"`)
	require.Contains(t, out, `"max_size": 4194304`)
	require.Contains(t, out, `"verify": false`)

	out = c.mustRun("--config", explicit, "--max-size", "8388608", "--log-level", "debug", "print-config")
	require.Contains(t, out, `"max_size": 8388608`)
	require.Contains(t, out, `"log_level": "debug"`)
}

func TestConfigErrors(t *testing.T) {
	c := newTestCLI(t)

	stderr := c.mustFail("-c", filepath.Join(t.TempDir(), "missing.json"), "print-config")
	require.Contains(t, stderr, "cannot read config file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, bad, `{"max_size": `)
	stderr = c.mustFail("-c", bad, "print-config")
	require.Contains(t, stderr, "invalid config")

	unknown := filepath.Join(t.TempDir(), "unknown.json")
	writeFile(t, unknown, `{"colour": "blue"}`)
	c.mustFail("-c", unknown, "print-config")

	c.mustFail("--log-level", "loud", "print-config")

	timeout := filepath.Join(t.TempDir(), "timeout.json")
	writeFile(t, timeout, `{"read_timeout": "-1s"}`)
	c.mustFail("-c", timeout, "print-config")
}

func TestGlobalConfigPath(t *testing.T) {
	require.Equal(t, filepath.Join("/x", "bucache", "config.json"),
		globalConfigPath(map[string]string{"XDG_CONFIG_HOME": "/x", "HOME": "/h"}))
	require.Equal(t, filepath.Join("/h", ".config", "bucache", "config.json"),
		globalConfigPath(map[string]string{"HOME": "/h"}))
	require.Empty(t, globalConfigPath(map[string]string{}))
}

func TestReadOnlyFlag(t *testing.T) {
	c := newTestCLI(t)

	c.mustRun("put", "geom", "sphere", "radius=3")
	require.Equal(t, "radius=3", c.mustRun("--read-only", "get", "geom", "sphere"))

	stderr := c.mustFail("--read-only", "put", "geom", "cube", "side=2")
	require.Contains(t, stderr, "read-only")

	cfg := filepath.Join(t.TempDir(), "ro.json")
	writeFile(t, cfg, `{"read_only": true}`)
	stderr = c.mustFail("-c", cfg, "put", "geom", "cube", "side=2")
	require.Contains(t, stderr, "read-only")

	require.Contains(t, c.mustRun("-c", cfg, "print-config"), `"read_only": true`)
}
