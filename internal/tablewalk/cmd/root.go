package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"tablewalk/internal/config"
	"tablewalk/internal/enrich"
	"tablewalk/internal/host"
	"tablewalk/internal/host/ghidra"
	"tablewalk/internal/host/native"
	"tablewalk/internal/logging"
	"tablewalk/internal/report"
	twlog "tablewalk/internal/tablewalk/log"
	"tablewalk/internal/ui/colorize"
	"tablewalk/internal/ui/progress"
	"tablewalk/internal/walker"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tablewalk [binary]",
		Short: "Dump a table of function pointers and their prototypes",
		Long: `Tablewalk walks a fixed-stride table of {function pointer, tag} slots in a
binary, resolves every pointer to a function, decompiles its prototype and
writes the result as a JSON array.`,
		Example: `
# Walk an 8-byte stride table and write ~/functions.txt
tablewalk nvapi.dll --start 0x10395010 --end 0x10398af0

# Use Ghidra for decompilation and print a summary
tablewalk nvapi.dll --start 0x10395010 --end 0x10398af0 --backend ghidra --summary

# Only slots with known query codes, JSON on stdout
tablewalk nvapi.dll -c tablewalk.yaml --known-only --output - --print
  `,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				os.Setenv("TABLEWALK_LOG_LEVEL", "debug")
			}
			logFile, _ := cmd.Flags().GetString("log-file")
			if logFile != "" {
				os.Setenv("TABLEWALK_LOG_FILE", logFile)
			}
			twlog.Setup(logFile, debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("could not create CPU profile: %v", err)
				}
				defer f.Close()
				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("could not start CPU profile: %v", err)
				}
				defer pprof.StopCPUProfile()
			}

			memprofile, _ := cmd.Flags().GetString("memprofile")
			if memprofile != "" {
				defer func() {
					f, err := os.Create(memprofile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer f.Close()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			if cfg.Binary == "" {
				return fmt.Errorf("usage: tablewalk <binary> --start <addr> --end <addr>")
			}
			return runWalk(cmd, cfg)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file (default $TABLEWALK_CONFIG)")
	pf.BoolP("debug", "d", false, "Debug")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.String("backend", config.BackendNative, "Decompiler backend: native or ghidra")
	pf.Duration("timeout", walker.DefaultTimeout, "Per-function decompile budget")
	pf.String("ghidra-home", "", "Ghidra installation directory (auto-detected if omitted)")
	pf.String("ghidra-project", "", "Directory for the Ghidra project")
	pf.Bool("keep-project", false, "Keep the Ghidra project after the run")
	pf.String("ghidra-max-memory", "", "JVM heap for analyzeHeadless, e.g. 4G")

	f := cmd.Flags()
	var start, end config.Address
	f.Var(&start, "start", "Address of the first slot")
	f.Var(&end, "end", "Address of the last slot (inclusive)")
	f.Int("stride", 8, "Bytes per slot")
	f.Int("pointer-size", 4, "Pointer width in bytes: 4 or 8")
	f.Int("pointer-offset", 0, "Offset of the pointer within a slot")
	f.Int("tag-offset", 4, "Offset of the 32-bit tag within a slot")
	f.StringP("output", "o", "", "Dump path, - for none (default ~/functions.txt)")
	f.String("tag-format", string(walker.TagFixed), "Query code format: fixed or legacy")
	f.String("params", "legacy", "Parameter extraction: legacy, tolerant or host")
	f.BoolP("keep-going", "k", false, "Record per-slot failures instead of aborting")
	f.Bool("known-only", false, "Skip slots whose tag is not in the tag table")
	f.StringSlice("enrich", nil, "Enrichers to run: "+strings.Join(enrich.Available(), ", "))
	f.Int("cache-size", 256, "Decompile cache entries, 0 to disable")
	f.BoolP("print", "p", false, "Print the JSON dump to stdout")
	f.BoolP("summary", "s", false, "Print a summary table after the walk")
	f.BoolP("quiet", "q", false, "Hide the per-slot banners")
	f.Bool("banner-json", false, "Follow each function's banner with its JSON record")
	f.BoolP("tui", "t", false, "Show an interactive progress view")
	f.String("cpuprofile", "", "Write CPU profile to file")
	f.String("memprofile", "", "Write memory profile to file")

	cmd.AddCommand(newDecompileCmd(), newTagsCmd(), newSchemaCmd())
	return cmd
}

// loadConfig layers defaults, the config file, TABLEWALK_* variables and
// finally any flags set on the command line.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("TABLEWALK_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Binary = args[0]
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("start") {
		cfg.Start = *fs.Lookup("start").Value.(*config.Address)
	}
	if changed("end") {
		cfg.End = *fs.Lookup("end").Value.(*config.Address)
	}
	for name, dst := range map[string]*int{
		"stride":         &cfg.Stride,
		"pointer-size":   &cfg.PointerSize,
		"pointer-offset": &cfg.PointerOffset,
		"tag-offset":     &cfg.TagOffset,
		"cache-size":     &cfg.CacheSize,
	} {
		if changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	for name, dst := range map[string]*string{
		"backend":           &cfg.Backend,
		"output":            &cfg.Output,
		"tag-format":        &cfg.TagFormat,
		"params":            &cfg.Params,
		"ghidra-home":       &cfg.Ghidra.Home,
		"ghidra-project":    &cfg.Ghidra.ProjectDir,
		"ghidra-max-memory": &cfg.Ghidra.MaxMemory,
	} {
		if changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	for name, dst := range map[string]*bool{
		"keep-going":   &cfg.KeepGoing,
		"known-only":   &cfg.KnownOnly,
		"keep-project": &cfg.Ghidra.KeepProject,
	} {
		if changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	if changed("timeout") {
		cfg.DecompileTimeout, _ = fs.GetDuration("timeout")
	}
	if changed("enrich") {
		cfg.Enrich, _ = fs.GetStringSlice("enrich")
	}
}

// openHost loads the binary with the configured backend.
func openHost(cfg *config.Config, lg *logging.Logger) (host.Host, func() error, error) {
	switch cfg.Backend {
	case config.BackendGhidra:
		h, err := ghidra.Open(cfg.Binary, ghidra.Options{
			Home:        cfg.Ghidra.Home,
			ProjectDir:  cfg.Ghidra.ProjectDir,
			KeepProject: cfg.Ghidra.KeepProject,
			MaxMemory:   cfg.Ghidra.MaxMemory,
			Timeout:     cfg.DecompileTimeout,
			Logger:      lg.Component("ghidra"),
		})
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	default:
		h, err := native.Open(cfg.Binary)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	}
}

func tagTable(cfg *config.Config) (*enrich.Table, error) {
	table := enrich.DefaultTable()
	if err := table.Merge(cfg.Tags); err != nil {
		return nil, err
	}
	return table, nil
}

func runWalk(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	quiet, _ := cmd.Flags().GetBool("quiet")
	printJSON, _ := cmd.Flags().GetBool("print")
	bannerJSON, _ := cmd.Flags().GetBool("banner-json")
	summary, _ := cmd.Flags().GetBool("summary")
	tui, _ := cmd.Flags().GetBool("tui")
	color := colorize.Enabled()

	lg := logging.NewLogger()
	defer lg.Close()

	outPath := cfg.Output
	if outPath == "" {
		p, err := report.DefaultPath()
		if err != nil {
			return err
		}
		outPath = p
	}

	table, err := tagTable(cfg)
	if err != nil {
		return err
	}
	chain, err := enrich.Build(cfg.Enrich, table)
	if err != nil {
		return err
	}

	h, closeHost, err := openHost(cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", cfg.Binary, err)
	}
	defer closeHost()

	wcfg := cfg.Walker()
	opts := walker.Options{
		Known:     table.Map(),
		Enrich:    chain.Enrich,
		CacheSize: cfg.CacheSize,
		Logger:    lg.Component("walk"),
	}
	slog.Debug("walking table", "binary", cfg.Binary, "backend", cfg.Backend,
		"start", cfg.Start.String(), "end", cfg.End.String(), "enrich", chain.Names())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		records []walker.Record
		stats   walker.Stats
	)
	if tui && term.IsTerminal(os.Stdout.Fd()) {
		total := walker.SlotCount(wcfg.Start, wcfg.End, wcfg.Stride)
		records, stats, err = progress.Run(ctx, filepath.Base(cfg.Binary), total,
			func(ctx context.Context, mon *progress.Monitor) ([]walker.Record, walker.Stats, error) {
				opts.Monitor = mon
				opts.OnRecord = mon.Record
				return walker.WalkStats(ctx, h, wcfg, opts)
			})
	} else {
		if !quiet {
			opts.OnRecord = func(r walker.Record) {
				report.Banner(out, r, color)
				if bannerJSON {
					if err := report.BannerRecord(out, r); err != nil {
						lg.Warn("banner record", "slot", r.Slot, "err", err)
					}
				}
			}
		}
		if logging.IsDebug() {
			opts.Monitor = host.MonitorFunc(func(msg string) { lg.Debug(msg) })
		}
		records, stats, err = walker.WalkStats(ctx, h, wcfg, opts)
	}
	if err != nil {
		return err
	}

	if outPath != "-" {
		if err := report.WriteJSON(outPath, records); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		lg.Info("wrote dump", "records", len(records), "path", outPath)
	}
	if printJSON {
		if err := report.Encode(out, records); err != nil {
			return err
		}
	}
	if summary {
		rendered, err := report.Summary(records, stats, terminalWidth(), color)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
	}
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 100
}

func Execute() {
	// Piped output gets plain text and bypasses fang's styled errors.
	if !term.IsTerminal(os.Stdout.Fd()) {
		os.Setenv("TABLEWALK_NO_COLOR", "1")
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
