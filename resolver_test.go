package bucache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultResolverPriority(t *testing.T) {
	fail := func() (string, error) { return "", errors.New("unavailable") }
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == RootEnvVar {
				return v
			}
			return ""
		}
	}

	tests := []struct {
		name string
		r    DefaultResolver
		want string
	}{
		{
			name: "environment override",
			r: DefaultResolver{
				Getenv:       env("/override"),
				UserCacheDir: func() (string, error) { return "/xdg", nil },
			},
			want: "/override",
		},
		{
			name: "user cache dir",
			r: DefaultResolver{
				App:          "app",
				Getenv:       env(""),
				UserCacheDir: func() (string, error) { return "/xdg", nil },
			},
			want: filepath.Join("/xdg", "app"),
		},
		{
			name: "home fallback",
			r: DefaultResolver{
				Getenv:       env(""),
				UserCacheDir: fail,
				UserHomeDir:  func() (string, error) { return "/home/u", nil },
			},
			want: filepath.Join("/home/u", ".cache", DefaultAppName),
		},
		{
			name: "temp fallback",
			r: DefaultResolver{
				App:          "app",
				Getenv:       env(""),
				UserCacheDir: fail,
				UserHomeDir:  fail,
			},
			want: filepath.Join(os.TempDir(), "app"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.r.CacheRoot()
			if err != nil {
				t.Fatalf("CacheRoot failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CacheRoot = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDirResolver(t *testing.T) {
	if _, err := DirResolver("").CacheRoot(); err == nil {
		t.Fatal("empty DirResolver should fail")
	}
	got, err := DirResolver("/some/root").CacheRoot()
	if err != nil || got != "/some/root" {
		t.Fatalf("CacheRoot = %q, %v", got, err)
	}
}

func TestCachePath(t *testing.T) {
	root := t.TempDir()
	got, err := cachePath(DirResolver(root), "mycache")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "mycache") {
		t.Fatalf("cachePath = %q", got)
	}

	for _, bad := range []string{"", ".", "..", "a/b", "../escape"} {
		if _, err := cachePath(DirResolver(root), bad); err == nil {
			t.Errorf("cachePath(%q) should fail", bad)
		}
	}

	broken := ResolverFunc(func() (string, error) { return "", errors.New("no root") })
	if _, err := cachePath(broken, "x"); err == nil {
		t.Fatal("resolver error not propagated")
	}
}
