package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"confusage/internal/analysis"
	"confusage/internal/config"
	"confusage/internal/logging"
	"confusage/internal/store"
	"confusage/internal/trace"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time.
var version = "dev"

const usageLine = "Wrong arguments: [procDirListPath] [classPathPath]"

var errWrongArguments = errors.New("expected exactly two arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(os.Stdout)
	err := rootCmd.ExecuteContext(ctx)
	if errors.Is(err, errWrongArguments) {
		fmt.Fprintln(os.Stdout, usageLine)
		os.Exit(-1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flags are the command-line overrides of the configuration file.
type flags struct {
	configPath      string
	confClass       string
	component       string
	constructor     string
	allConstructors bool
	depth           int
	accessorPrefix  string
	exclude         []string
	followCHA       bool
	db              string
	logLevel        string
	workers         int
}

func (f *flags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.configPath, "config", "", "TOML file applied on top of the defaults (default ./"+config.LocalFile+" if present)")
	fs.StringVar(&f.confClass, "conf-class", "", "fully qualified configuration class")
	fs.StringVar(&f.component, "component", "", "fully qualified component class")
	fs.StringVar(&f.constructor, "constructor", "", "constructor sub-signature to trace")
	fs.BoolVar(&f.allConstructors, "all-constructors", false, "trace every constructor of the component")
	fs.IntVar(&f.depth, "depth", 0, "depth threshold")
	fs.StringVar(&f.accessorPrefix, "accessor-prefix", "", "name prefix of configuration accessors")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "classes whose bodies are not loaded")
	fs.BoolVar(&f.followCHA, "follow-cha", false, "follow every class-hierarchy target of a call site")
	fs.StringVar(&f.db, "db", "", "SQLite file the call graph is written to")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.IntVar(&f.workers, "workers", 0, "parser workers, 0 for one per CPU")
}

// apply overrides cfg with the flags set on cmd.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("conf-class") {
		cfg.Analysis.ConfClass = f.confClass
	}
	if changed("accessor-prefix") {
		cfg.Analysis.AccessorPrefix = f.accessorPrefix
	}
	if changed("depth") {
		cfg.Analysis.DepthThreshold = f.depth
	}
	if changed("follow-cha") {
		cfg.Analysis.FollowCHA = f.followCHA
	}
	if changed("component") {
		cfg.Component.Class = f.component
		if !changed("constructor") {
			cfg.Component.Constructor = ""
		}
	}
	if changed("constructor") {
		cfg.Component.Constructor = f.constructor
	}
	if changed("all-constructors") {
		cfg.Component.AllConstructors = f.allConstructors
	}
	if changed("exclude") {
		cfg.Scene.Exclude = f.exclude
	}
	if changed("workers") {
		cfg.Scanner.Workers = f.workers
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

// setup loads and validates the configuration and builds the logger.
func (f *flags) setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	f := &flags{}
	rootCmd := &cobra.Command{
		Use:   "confusage [flags] <procDirListPath> <classPathPath>",
		Short: "Trace configuration accessor calls reachable from a component constructor",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errWrongArguments
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runTrace(cmd.Context(), cfg, f.db, args[0], args[1], stdout, logger)
		},
	}
	f.register(rootCmd)
	rootCmd.AddCommand(newServeCmd(f))
	return rootCmd
}

func loadOptions(cfg *config.Config, logger *zap.Logger) analysis.Options {
	return analysis.Options{Exclude: cfg.Scene.Exclude, Workers: cfg.Scanner.Workers, Logger: logger}
}

func traceOptions(cfg *config.Config) trace.Options {
	return trace.Options{
		ConfClass:      cfg.Analysis.ConfClass,
		AccessorPrefix: cfg.Analysis.AccessorPrefix,
		Threshold:      cfg.Analysis.DepthThreshold,
		FollowCHA:      cfg.Analysis.FollowCHA,
		KnownAccessors: cfg.Analysis.KnownAccessors,
	}
}

// runTrace loads the program, optionally stores its call graph and writes
// the trace report of every entry constructor to stdout.
func runTrace(ctx context.Context, cfg *config.Config, dbPath, procDirList, classPathList string, stdout io.Writer, logger *zap.Logger) error {
	in := analysis.ReadInputs(logger, procDirList, classPathList)
	p, err := analysis.Load(ctx, in, loadOptions(cfg, logger))
	if err != nil {
		return err
	}

	if dbPath != "" {
		st, err := store.Open(ctx, dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		nodes, edges, err := p.Index(ctx, st)
		if err != nil {
			return err
		}
		logger.Info("call graph stored", zap.String("db", dbPath), zap.Int("nodes", nodes), zap.Int("edges", edges))
	}

	entries, err := p.Entries(cfg.Component.Class, cfg.Component.Constructor, cfg.Component.AllConstructors)
	if err != nil {
		return err
	}

	sink := trace.NewTextSink(stdout)
	tr, err := p.Tracer(sink, traceOptions(cfg))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if cfg.Component.AllConstructors {
			fmt.Fprintln(stdout, entry.SubSignature())
		}
		sum := tr.Trace(entry)
		logger.Debug("trace finished",
			zap.String("entry", entry.Signature()),
			zap.Int("visited", sum.Visited),
			zap.Int("accessors", len(sum.Accessors)),
			zap.Int("skipped", sum.Skipped))
	}
	if err := sink.Err(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
