package bucache

import (
	"fmt"
	"sync"
)

// registry hands out one shared env per cache directory.
var registry = struct {
	mu   sync.Mutex
	envs map[string]*env
}{envs: make(map[string]*env)}

// acquireEnv returns the env for dir, opening it on first use. An env
// whose backing file was erased or replaced is dropped from the
// registry and never shared again; handles still holding it keep
// working until they close.
func acquireEnv(dir string, create bool, maxSize uint64, o *options) (*env, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if e, ok := registry.envs[dir]; ok && e.stale() {
		e.log.Warn("backing file is gone, not sharing the open cache")
		delete(registry.envs, dir)
	}

	if e, ok := registry.envs[dir]; ok {
		if e.opts.readOnly != o.readOnly {
			return nil, WrapError(ErrIncompatible,
				fmt.Errorf("cache already open with read_only=%t", e.opts.readOnly))
		}
		e.refs++
		e.log.Debug("sharing open cache", "refs", e.refs)
		return e, nil
	}

	e, err := openEnv(dir, create, maxSize, o)
	if err != nil {
		return nil, err
	}
	e.refs = 1
	registry.envs[dir] = e
	return e, nil
}

// releaseEnv drops one reference and closes the env with the last one.
// Any open transaction makes every release fail with ErrBusy.
func releaseEnv(e *env) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	e.txnMu.Lock()
	err := e.busyLocked()
	e.txnMu.Unlock()
	if err != nil {
		e.log.Warn("cannot close cache with an open transaction, commit or abort it first", "err", err)
		return err
	}
	if e.refs > 1 {
		e.refs--
		return nil
	}
	if err := e.close(); err != nil {
		return err
	}
	e.refs = 0
	if registry.envs[e.dir] == e {
		delete(registry.envs, e.dir)
	}
	return nil
}

// forgetEnv drops dir from the registry so the next open maps the
// directory afresh.
func forgetEnv(dir string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.envs, dir)
}

// isOpen reports whether dir is mapped by this process.
func isOpen(dir string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, ok := registry.envs[dir]
	return ok
}
