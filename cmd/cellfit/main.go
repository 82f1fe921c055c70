// Command cellfit extracts Allen single-cell fits, stores them and serves
// them over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cellfit/internal/blob"
	"cellfit/internal/config"
	"cellfit/internal/core"
	"cellfit/internal/fitstore"
	"cellfit/internal/infra/persistence"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	return execute(context.Background(), args, stdout, stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globals carries the state shared by every subcommand once flags are parsed.
type globals struct {
	configPath string
	trace      bool
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "cellfit",
		Short:         "Extract and serve Allen single-cell model fits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.BoolVar(&g.trace, "trace", false, "write a JSON trace line per operation to stderr")

	root.AddCommand(
		newExtractCmd(),
		newPlanCmd(g),
		newIngestCmd(g),
		newListCmd(g),
		newShowCmd(g),
		newServeCmd(g),
	)
	return root
}

// load resolves the configuration from file, environment and flags.
func (g *globals) load(cmd *cobra.Command) error {
	v := config.New()
	if g.configPath != "" {
		v.SetConfigFile(g.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", g.configPath, err)
		}
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.logger = newLogger(cfg.Log, cmd.ErrOrStderr())
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, name := range map[string]string{"log.level": "log-level", "log.format": "log-format"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}
	return nil
}

func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app holds the stores and service opened for one command.
type app struct {
	blobs   blob.Store
	store   fitstore.Store
	service *core.Service
}

func (g *globals) open(cmd *cobra.Command, opts ...core.Option) (*app, error) {
	ctx := cmd.Context()
	blobs, err := blob.Open(ctx, g.cfg.Blob)
	if err != nil {
		return nil, err
	}
	store, err := persistence.Open(ctx, g.cfg.Store)
	if err != nil {
		return nil, err
	}
	base := []core.Option{
		core.WithLogger(g.logger),
		core.WithAuditRecorder(logAudit{logger: g.logger}),
	}
	if g.trace {
		base = append(base, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	svc := core.NewService(blobs, store, append(base, opts...)...)
	g.logger.Debug("stores opened", "blob", blobs.Driver(), "store", g.cfg.Store.Driver)
	return &app{blobs: blobs, store: store, service: svc}, nil
}

func (a *app) Close() error { return a.store.Close() }

// logAudit writes service audit entries to the logger.
type logAudit struct {
	logger *slog.Logger
}

func (l logAudit) Record(ctx context.Context, e core.AuditEntry) {
	attrs := []any{"operation", e.Operation, "status", e.Status, "id", e.EntityID, "source", e.Source}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
}
