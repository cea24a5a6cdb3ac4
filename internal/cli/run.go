package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/BRL-CAD/bucache"
)

// Run is the main entry point. Returns exit code.
func Run(in io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	o := NewIO(in, out, errOut)

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(o, nil)
			return 0
		}
		o.ErrPrintln("error:", err)
		return 1
	}

	cfg, sources, err := LoadConfig(flags.configPath, env)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	cfg = flags.apply(cfg)
	if err := validateConfig(cfg); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	s, err := newSession(cfg, sources, errOut, env)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	commands := s.commands()
	if len(flags.remaining) == 0 {
		printUsage(o, commands)
		return 0
	}

	name := flags.remaining[0]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(o, commands)
		return 0
	}

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(context.Background(), o, flags.remaining[1:])
		}
	}

	o.ErrPrintln("error: unknown command:", name)
	printUsage(NewIO(in, errOut, errOut), commands)
	return 1
}

type globalFlags struct {
	configPath string
	root       string
	maxSize    uint64
	noVerify   bool
	readOnly   bool
	logLevel   string
	set        map[string]bool
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var g globalFlags

	fs := flag.NewFlagSet("bucache", flag.ContinueOnError)
	fs.SetOutput(&strings.Builder{})
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", "", "config file (JSON with comments)")
	fs.StringVar(&g.root, "root", "", "cache root directory")
	fs.Uint64Var(&g.maxSize, "max-size", 0, "map size in bytes for new environments")
	fs.BoolVar(&g.noVerify, "no-verify", false, "skip read-back verification of writes")
	fs.BoolVar(&g.readOnly, "read-only", false, "open caches without write access")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return globalFlags{}, err
	}

	g.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { g.set[f.Name] = true })
	g.remaining = fs.Args()
	return g, nil
}

// apply overrides cfg with the flags given on the command line.
func (g globalFlags) apply(cfg Config) Config {
	if g.set["root"] {
		cfg.Root = g.root
	}
	if g.set["max-size"] {
		cfg.MaxSize = g.maxSize
	}
	if g.set["no-verify"] {
		verify := !g.noVerify
		cfg.Verify = &verify
	}
	if g.set["read-only"] {
		cfg.ReadOnly = g.readOnly
	}
	if g.set["log-level"] {
		cfg.LogLevel = g.logLevel
	}
	return cfg
}

// session holds what every command needs to open a cache.
type session struct {
	cfg     Config
	sources []string
	log     *slog.Logger
	opts    []bucache.Option
}

func newSession(cfg Config, sources []string, logOut io.Writer, env map[string]string) (*session, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	opts := []bucache.Option{bucache.WithLogger(log)}
	if cfg.Root != "" {
		opts = append(opts, bucache.WithRoot(cfg.Root))
	} else {
		opts = append(opts, bucache.WithResolver(bucache.DefaultResolver{
			Getenv: func(k string) string { return env[k] },
		}))
	}
	if cfg.Verify != nil && !*cfg.Verify {
		opts = append(opts, bucache.WithoutVerify())
	}
	if cfg.ReadOnly {
		opts = append(opts, bucache.WithReadOnly())
	}
	if cfg.ReadTimeout != "" {
		d, err := time.ParseDuration(cfg.ReadTimeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bucache.WithReadTimeout(d))
	}

	return &session{cfg: cfg, sources: sources, log: log, opts: opts}, nil
}

func (s *session) open(name string, create bool) (*bucache.Cache, error) {
	return bucache.Open(name, create, s.cfg.MaxSize, s.opts...)
}

// closeCache closes c and folds a close failure into err.
func closeCache(c *bucache.Cache, err error) error {
	if cerr := c.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

func printUsage(o *IO, commands []*Command) {
	o.Println("bucache - named transactional key/value caches")
	o.Println()
	o.Println("Usage: bucache [flags] <command> [args]")
	o.Println()
	o.Println("Flags:")
	o.Println("  -c, --config FILE      config file (JSON with comments)")
	o.Println("      --root DIR         cache root directory")
	o.Println("      --max-size BYTES   map size in bytes for new environments")
	o.Println("      --no-verify        skip read-back verification of writes")
	o.Println("      --read-only        open caches without write access")
	o.Println("      --log-level LEVEL  debug, info, warn or error")
	if len(commands) == 0 {
		return
	}
	o.Println()
	o.Println("Commands:")
	for _, cmd := range commands {
		o.Println(cmd.HelpLine())
	}
}

// readValue returns the value argument, or the contents of path ("-"
// reads stdin).
func readValue(o *IO, args []string, path string) ([]byte, error) {
	switch {
	case path != "" && len(args) > 0:
		return nil, errors.New("give either a value or --file, not both")
	case path == "-":
		return io.ReadAll(o.in)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading value: %w", err)
		}
		return data, nil
	case len(args) == 0:
		return nil, errors.New("missing value")
	}
	return []byte(args[0]), nil
}
