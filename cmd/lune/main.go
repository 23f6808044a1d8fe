package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"

	"github.com/rex-rbx/lune-but-weird/internal/config"
	"github.com/rex-rbx/lune-but-weird/internal/journal"
	"github.com/rex-rbx/lune-but-weird/internal/logger"
	"github.com/rex-rbx/lune-but-weird/internal/remote"
	"github.com/rex-rbx/lune-but-weird/internal/vm"
)

type options struct {
	debug      bool
	verbose    bool
	noColor    bool
	disasm     bool
	listenAddr string
	configPath string
	journalDSN string
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(1)
		}
	}()

	var opts options
	flag.BoolVar(&opts.debug, "debug", false, "Run under the interactive debugger")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&opts.noColor, "n", false, "No color")
	flag.BoolVar(&opts.disasm, "disasm", false, "Disassemble the bundle and exit")
	flag.StringVar(&opts.listenAddr, "listen", "", "Remote debug server address (e.g. "+config.DefaultListenAddr+")")
	flag.StringVar(&opts.configPath, "config", "", "Path to lune.yaml (default: search upward from the bundle)")
	flag.StringVar(&opts.journalDSN, "journal", "", "Path of the SQLite mutation journal")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Printf("Usage: %s [options] <bundle%s>\n", os.Args[0], config.BundleFileExt)
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(2)
	}

	bundlePath := args[0]
	cfg := loadConfig(&opts, bundlePath)

	// CLI flags win over config file values
	if !opts.verbose {
		opts.verbose = cfg.Debug
	}
	if !opts.noColor {
		opts.noColor = cfg.NoColor || !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
	}
	if opts.listenAddr == "" {
		opts.listenAddr = cfg.Listen
	}
	if opts.journalDSN == "" {
		opts.journalDSN = cfg.Journal
	}

	logger.Init(opts.verbose, opts.noColor)

	if !config.IsBundleFile(bundlePath) {
		log.Fatal("Not a bundle file", "path", bundlePath, "expected", config.BundleFileExtensions)
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		log.Fatal("Cannot read bundle", "path", bundlePath, "error", err)
	}

	bundle, err := vm.Deserialize(data)
	if err != nil {
		log.Fatal("Cannot load bundle", "path", bundlePath, "error", err)
	}

	if opts.disasm {
		name := bundle.Main.Name
		if name == "" {
			name = filepath.Base(bundlePath)
		}
		fmt.Print(vm.Disassemble(bundle.Main, name))
		return
	}

	machine := vm.New()
	if bundle.SourceFile != "" {
		machine.SetCurrentFile(bundle.SourceFile)
	}

	for _, bp := range cfg.Breakpoints {
		machine.GetDebugger().SetBreakpoint(bp.File, bp.Line)
		log.Debug("breakpoint set", "file", bp.File, "line", bp.Line)
	}

	var jnl *journal.Journal
	if opts.journalDSN != "" {
		jnl, err = journal.Open(opts.journalDSN)
		if err != nil {
			log.Fatal("Cannot open journal", "path", opts.journalDSN, "error", err)
		}
		defer jnl.Close()
		log.Debug("journal opened", "path", opts.journalDSN, "session", jnl.Session())
	}

	var srv *remote.Server
	if opts.listenAddr != "" {
		srv = remote.NewServer(machine, jnl)
		go func() {
			if err := srv.Serve(opts.listenAddr); err != nil {
				log.Error("debug server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	if opts.debug {
		machine.EnableDebugger()
		machine.GetDebugger().Step()
		cli := vm.NewDebuggerCLI(machine.GetDebugger(), machine)
		cli.SetInput(os.Stdin)
		cli.SetOutput(os.Stdout)
		cli.Run()
	} else if len(cfg.Breakpoints) > 0 {
		// Breakpoints without -debug still pause into the CLI
		machine.EnableDebugger()
		machine.GetDebugger().Continue()
		cli := vm.NewDebuggerCLI(machine.GetDebugger(), machine)
		cli.SetInput(os.Stdin)
		cli.SetOutput(os.Stdout)
		cli.Run()
	}

	result, err := machine.Run(bundle.Main)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %s\n", err)
		os.Exit(1)
	}

	if !result.IsNil() {
		fmt.Println(result.Inspect())
	}
}

// loadConfig loads lune.yaml from the flag path or by searching upward from
// the bundle directory. A missing config is not an error.
func loadConfig(opts *options, bundlePath string) *config.Config {
	if opts.configPath != "" {
		cfg, err := config.LoadConfig(opts.configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config error: %s\n", err)
			os.Exit(1)
		}
		return cfg
	}

	dir := filepath.Dir(bundlePath)
	path, err := config.FindConfig(dir)
	if err != nil || path == "" {
		return &config.Config{}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}
