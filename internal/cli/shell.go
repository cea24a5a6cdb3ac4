package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/BRL-CAD/bucache"
)

var shellCommands = []string{
	"get", "put", "del", "keys", "begin", "commit", "abort", "stat", "help", "exit",
}

func (s *session) shellCmd() *Command {
	return &Command{
		Usage: "shell <name>",
		Short: "Interactive shell on one cache",
		Long: "Open an interactive shell on a cache, creating it if needed. 'begin' holds\n" +
			"a write transaction open so that put and del batch until 'commit' or 'abort'.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 1, 1); err != nil {
				return err
			}
			c, err := s.open(args[0], true)
			if err != nil {
				return err
			}
			r := &REPL{cache: c, io: o}
			return closeCache(c, r.Run())
		},
	}
}

// REPL is the interactive command loop.
type REPL struct {
	cache *bucache.Cache
	io    *IO
	batch bucache.Slot
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bucache_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	r.io.Printf("bucache shell on %q (%s)\n", r.cache.Name(), r.cache.Path())
	r.io.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			r.finish()
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if r.exec(line) {
			break
		}
	}

	r.finish()
	r.saveHistory()
	return nil
}

func (r *REPL) prompt() string {
	if r.batch.Active() {
		return r.cache.Name() + " (batch)> "
	}
	return r.cache.Name() + "> "
}

// finish aborts a batch left open at exit.
func (r *REPL) finish() {
	if r.batch.Active() {
		r.cache.WriteAbort(&r.batch)
		r.io.Println("uncommitted batch aborted")
	}
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	var out []string
	for _, c := range shellCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}
	return out
}

// slot returns the batch slot while a batch is open, nil otherwise.
func (r *REPL) slot() *bucache.Slot {
	if r.batch.Active() {
		return &r.batch
	}
	return nil
}

// exec runs one command line and returns true when the shell should
// exit.
func (r *REPL) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "get":
		err = r.cmdGet(args)
	case "put", "set":
		err = r.cmdPut(args)
	case "del", "delete":
		err = r.cmdDel(args)
	case "keys", "ls":
		err = r.cmdKeys()
	case "begin":
		err = r.cmdBegin()
	case "commit":
		err = r.cache.WriteCommit(&r.batch)
		if err == nil {
			r.io.Println("committed")
		}
	case "abort":
		if !r.batch.Active() {
			err = errors.New("no batch open")
		} else {
			r.cache.WriteAbort(&r.batch)
			r.io.Println("aborted")
		}
	case "stat":
		var st bucache.Stat
		if st, err = r.cache.Stat(); err == nil {
			printStat(r.io, st)
		}
	default:
		r.io.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		r.io.Println("error:", err)
	}
	return false
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}
	v, err := r.cache.Get(args[0], r.slot())
	if err != nil {
		return err
	}
	r.io.Printf("%q\n", v)
	return nil
}

func (r *REPL) cmdPut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <key> <value>")
	}
	value := strings.Join(args[1:], " ")
	n, err := r.cache.Write(args[0], []byte(value), r.slot())
	if err != nil {
		return err
	}
	r.io.Printf("wrote %d bytes\n", n)
	return nil
}

func (r *REPL) cmdDel(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: del <key>...")
	}
	if s := r.slot(); s != nil {
		for _, k := range args {
			if err := r.cache.Clear(k, s); err != nil {
				return err
			}
		}
		return nil
	}
	return r.cache.ClearItems(args)
}

func (r *REPL) cmdKeys() error {
	if r.batch.Active() {
		return errors.New("keys lists committed data only, commit or abort first")
	}
	keys, err := r.cache.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		r.io.Println(k)
	}
	r.io.Printf("(%d keys)\n", len(keys))
	return nil
}

func (r *REPL) cmdBegin() error {
	if r.batch.Active() {
		return errors.New("batch already open")
	}
	if err := r.cache.Begin(&r.batch); err != nil {
		return err
	}
	r.io.Println("batch open")
	return nil
}

func (r *REPL) printHelp() {
	r.io.Println(`Commands:
  get <key>            print the value under key
  put <key> <value>    store value under key
  del <key>...         remove keys
  keys                 list keys
  begin                open a write batch
  commit               commit the open batch
  abort                discard the open batch
  stat                 show cache geometry and usage
  help                 show this help
  exit                 leave the shell`)
}
