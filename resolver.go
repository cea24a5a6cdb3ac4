package bucache

import (
	"errors"
	"os"
	"path/filepath"
)

// RootResolver locates the directory under which caches live.
type RootResolver interface {
	CacheRoot() (string, error)
}

// ResolverFunc adapts a function to RootResolver.
type ResolverFunc func() (string, error)

// CacheRoot implements RootResolver.
func (f ResolverFunc) CacheRoot() (string, error) { return f() }

// DirResolver always resolves to the given directory.
type DirResolver string

// CacheRoot implements RootResolver.
func (d DirResolver) CacheRoot() (string, error) {
	if d == "" {
		return "", errors.New("empty cache root")
	}
	return string(d), nil
}

// DefaultResolver picks the platform cache root. The first of these wins:
//
//  1. $BU_DIR_CACHE, used as is
//  2. os.UserCacheDir()/App (XDG_CACHE_HOME, ~/Library/Caches, %LocalAppData%)
//  3. $HOME/.cache/App
//  4. os.TempDir()/App
type DefaultResolver struct {
	App string

	// Getenv and UserCacheDir default to the os package.
	Getenv       func(string) string
	UserCacheDir func() (string, error)
	UserHomeDir  func() (string, error)
}

// CacheRoot implements RootResolver.
func (r DefaultResolver) CacheRoot() (string, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	userCache := r.UserCacheDir
	if userCache == nil {
		userCache = os.UserCacheDir
	}
	userHome := r.UserHomeDir
	if userHome == nil {
		userHome = os.UserHomeDir
	}
	app := r.App
	if app == "" {
		app = DefaultAppName
	}

	if dir := getenv(RootEnvVar); dir != "" {
		return dir, nil
	}
	if dir, err := userCache(); err == nil && dir != "" {
		return filepath.Join(dir, app), nil
	}
	if home, err := userHome(); err == nil && home != "" {
		return filepath.Join(home, ".cache", app), nil
	}
	return filepath.Join(os.TempDir(), app), nil
}

// cachePath returns the directory of the named cache.
func cachePath(r RootResolver, name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", errors.New("invalid cache name " + name)
	}
	root, err := r.CacheRoot()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return "", err
	}
	return abs, nil
}
