// Package main provides bucache, a command line tool for named
// transactional key/value caches.
package main

import (
	"os"
	"strings"

	"github.com/BRL-CAD/bucache/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env))
}
