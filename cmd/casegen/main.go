package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/casegen/analysis"
	"github.com/wippyai/casegen/generator"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	countStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#98FB98"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to casegen.toml")
		output      = flag.String("o", "", "Tier one cases output (default "+generator.DefaultOutput+")")
		executor    = flag.String("e", "", "Tier two cases output (default "+generator.DefaultExecutorOutput+")")
		metadata    = flag.String("m", "", "Metadata header output (default "+generator.DefaultMetadataOutput+")")
		lines       = flag.Bool("l", false, "Emit #line directives")
		check       = flag.Bool("check", false, "Report stale outputs without writing")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg := generator.Config{}
	if *configFile != "" {
		loaded, err := generator.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if flag.NArg() > 0 {
		cfg.Inputs = flag.Args()
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *executor != "" {
		cfg.ExecutorOutput = *executor
	}
	if *metadata != "" {
		cfg.MetadataOutput = *metadata
	}
	cfg.EmitLineDirectives = cfg.EmitLineDirectives || *lines
	cfg.Check = *check

	if len(cfg.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: casegen [-o file] [-e file] [-m file] [-l] [-check] <bytecodes.toml>...")
		fmt.Fprintln(os.Stderr, "       casegen -config casegen.toml")
		fmt.Fprintln(os.Stderr, "       casegen -i <bytecodes.toml>...  (interactive mode)")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	analysis.SetLogger(log.Named("analysis"))
	generator.SetLogger(log.Named("generator"))

	if *interactive {
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	report, err := generator.Run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSummary(report, term.IsTerminal(int(os.Stdout.Fd())))
	if len(report.Stale()) > 0 {
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

func printSummary(r *generator.Report, color bool) {
	style := func(s lipgloss.Style, v string) string {
		if !color {
			return v
		}
		return s.Render(v)
	}
	count := func(label string, n int) {
		fmt.Printf("%s %s\n", style(labelStyle, fmt.Sprintf("%-13s", label+":")), style(countStyle, strconv.Itoa(n)))
	}

	count("Instructions", r.Instructions)
	count("Macros", r.Macros)
	count("Pseudos", r.Pseudos)
	count("Uops", r.Uops)
	fmt.Printf("%s blake3:%s\n", style(labelStyle, fmt.Sprintf("%-13s", "Input digest:")), r.InputDigest)

	for _, o := range r.Outputs {
		switch {
		case o.Stale:
			fmt.Printf("%s %s\n", style(staleStyle, "stale "), o.Path)
		case o.Written:
			fmt.Printf("wrote  %s\n", o.Path)
		default:
			fmt.Printf("same   %s\n", o.Path)
		}
	}
}
