package cli

import (
	"bytes"
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/BRL-CAD/bucache"
)

func (s *session) commands() []*Command {
	return []*Command{
		s.getCmd(),
		s.putCmd(),
		s.delCmd(),
		s.keysCmd(),
		s.eraseCmd(),
		s.statCmd(),
		s.compactCmd(),
		s.shellCmd(),
		s.configCmd(),
		versionCmd(),
	}
}

func (s *session) getCmd() *Command {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	output := fs.StringP("output", "o", "", "write the value to `file` atomically")

	return &Command{
		Flags: fs,
		Usage: "get <name> <key> [-o file]",
		Short: "Print the value stored under key",
		Long: "Print the value stored under key to stdout, unchanged. With -o the value\n" +
			"replaces file atomically.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 2, 2); err != nil {
				return err
			}
			c, err := s.open(args[0], false)
			if err != nil {
				return err
			}

			data, err := c.Get(args[1], nil)
			if err == nil {
				if *output != "" {
					err = atomic.WriteFile(*output, bytes.NewReader(data))
				} else {
					_, err = o.Write(data)
				}
			}
			return closeCache(c, err)
		},
	}
}

func (s *session) putCmd() *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	file := fs.StringP("file", "f", "", "read the value from `file` (- for stdin)")

	return &Command{
		Flags: fs,
		Usage: "put <name> <key> [value | -f file]",
		Short: "Store a value under key",
		Long:  "Store a value under key, creating the cache if needed.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 2, 3); err != nil {
				return err
			}
			data, err := readValue(o, args[2:], *file)
			if err != nil {
				return err
			}
			c, err := s.open(args[0], true)
			if err != nil {
				return err
			}
			_, err = c.Write(args[1], data, nil)
			return closeCache(c, err)
		},
	}
}

func (s *session) delCmd() *Command {
	return &Command{
		Usage: "del <name> <key>...",
		Short: "Remove keys",
		Long:  "Remove one or more keys in a single transaction. Missing keys are ignored.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := needArgs(args, 2, -1); err != nil {
				return err
			}
			c, err := s.open(args[0], false)
			if err != nil {
				return err
			}
			return closeCache(c, c.ClearItems(args[1:]))
		},
	}
}

func (s *session) keysCmd() *Command {
	return &Command{
		Usage: "keys <name>",
		Short: "List keys in sorted order",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 1, 1); err != nil {
				return err
			}
			c, err := s.open(args[0], false)
			if err != nil {
				return err
			}
			keys, err := c.Keys()
			for _, k := range keys {
				o.Println(k)
			}
			return closeCache(c, err)
		},
	}
}

func (s *session) eraseCmd() *Command {
	return &Command{
		Usage: "erase <name>",
		Short: "Delete a cache from disk",
		Long:  "Delete a cache from disk. Erasing a cache that does not exist succeeds.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := needArgs(args, 1, 1); err != nil {
				return err
			}
			return bucache.Erase(args[0], s.opts...)
		},
	}
}

func (s *session) statCmd() *Command {
	return &Command{
		Usage: "stat <name>",
		Short: "Show cache geometry and usage",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 1, 1); err != nil {
				return err
			}
			c, err := s.open(args[0], false)
			if err != nil {
				return err
			}
			st, err := c.Stat()
			if err == nil {
				printStat(o, st)
			}
			return closeCache(c, err)
		},
	}
}

func printStat(o *IO, st bucache.Stat) {
	w := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "path\t%s\n", st.Path)
	fmt.Fprintf(w, "entries\t%d\n", st.Entries)
	fmt.Fprintf(w, "file_size\t%d\n", st.FileSize)
	fmt.Fprintf(w, "map_size\t%d\n", st.MapSize)
	fmt.Fprintf(w, "page_size\t%d\n", st.PageSize)
	fmt.Fprintf(w, "max_readers\t%d\n", st.MaxReaders)
	fmt.Fprintf(w, "readers\t%d\n", len(st.Readers))
	fmt.Fprintf(w, "write_active\t%t\n", st.WriteActive)
	fmt.Fprintf(w, "generation\t%d\n", st.Generation)
	_ = w.Flush()
}

func (s *session) compactCmd() *Command {
	return &Command{
		Usage: "compact <name>",
		Short: "Rewrite the backing file without free pages",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 1, 1); err != nil {
				return err
			}
			c, err := s.open(args[0], false)
			if err != nil {
				return err
			}
			return closeCache(c, c.Compact())
		},
	}
}

func (s *session) configCmd() *Command {
	return &Command{
		Usage: "print-config",
		Short: "Show the resolved configuration",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := needArgs(args, 0, 0); err != nil {
				return err
			}
			text, err := FormatConfig(s.cfg)
			if err != nil {
				return err
			}
			o.Println(text)
			for _, src := range s.sources {
				o.Println("# from", src)
			}
			return nil
		},
	}
}

func versionCmd() *Command {
	return &Command{
		Usage: "version",
		Short: "Print version information",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			info := bucache.GetVersionInfo()
			o.Println(bucache.Version())
			o.Printf("engine: %s\npage size: %d\nkey limit: %d\n", info.Engine, info.PageSize, info.KeyMax)
			return nil
		},
	}
}
