// Command annotsv reads, writes and checks WebAnno TSV annotation documents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/annotsv/core/sqlite"
	"github.com/FocuswithJustin/annotsv/core/tsv"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
	"github.com/FocuswithJustin/annotsv/internal/config"
	"github.com/FocuswithJustin/annotsv/internal/logging"
	"github.com/FocuswithJustin/annotsv/internal/metrics"
)

const version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	Config     string   `name:"config" short:"c" help:"YAML configuration file" type:"path"`
	TypeSystem []string `name:"type-system" short:"t" help:"UIMA type-system descriptor adding custom layers (repeatable)" type:"path"`
	LogLevel   string   `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat  string   `name:"log-format" help:"Log format (text, json)"`
}

// CLI defines the command-line interface for annotsv.
type CLI struct {
	Globals

	Decode  DecodeCmd  `cmd:"" help:"Decode a TSV document to JSON"`
	Encode  EncodeCmd  `cmd:"" help:"Re-encode a TSV document in the fixed ten-column layout"`
	Tag     TagCmd     `cmd:"" help:"Tag plain text and write it as TSV"`
	Verify  VerifyCmd  `cmd:"" help:"Check that a document survives an encode/decode round trip"`
	Batch   BatchCmd   `cmd:"" help:"Convert every TSV document in a directory"`
	Schema  SchemaCmd  `cmd:"" help:"Print the layer schema declared by a TSV header"`
	Types   TypesCmd   `cmd:"" help:"List the known annotation types"`
	Store   StoreGroup `cmd:"" help:"Document snapshot database operations"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// StoreGroup contains snapshot database operations.
type StoreGroup struct {
	List   StoreListCmd   `cmd:"" help:"List stored documents"`
	Export StoreExportCmd `cmd:"" help:"Encode a stored document as TSV"`
	Delete StoreDeleteCmd `cmd:"" help:"Delete a stored document"`
}

// App carries what commands need after global flags are resolved.
type App struct {
	ctx      context.Context
	config   *config.Config
	types    *typesystem.TypeSystem
	recorder *metrics.Recorder
	stdout   io.Writer
}

// newApp loads the configuration, applies global flag overrides and initializes logging.
func newApp(ctx context.Context, g *Globals, stdout io.Writer) (*App, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	cfg.Types.Descriptors = append(cfg.Types.Descriptors, g.TypeSystem...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	logging.InitLogger(level, format)

	ts, err := cfg.TypeSystem()
	if err != nil {
		return nil, err
	}
	return &App{
		ctx:      ctx,
		config:   cfg,
		types:    ts,
		recorder: metrics.New(),
		stdout:   stdout,
	}, nil
}

func (a *App) decoder(layout string) (*tsv.Decoder, error) {
	l := a.config.Layout()
	if layout != "" {
		var err error
		if l, err = tsv.ParseLayout(layout); err != nil {
			return nil, err
		}
	}
	return tsv.NewDecoder(tsv.DecoderConfig{TypeSystem: a.types, Layout: l}), nil
}

func (a *App) encoder(metadata bool) *tsv.Encoder {
	return tsv.NewEncoder(tsv.EncoderConfig{Metadata: metadata || a.config.Encode.Metadata})
}

func (a *App) openStore(path string) (*sqlite.Store, error) {
	if path == "" {
		path = a.config.Store.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no snapshot database: pass --store or set store.path")
	}
	return sqlite.OpenStore(a.ctx, path)
}

// finish writes the metrics textfile when one is configured.
func (a *App) finish() error {
	if a.config.Metrics.File == "" {
		return nil
	}
	return a.recorder.WriteTextfile(a.config.Metrics.File)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("annotsv"),
		kong.Description("WebAnno TSV annotation codec"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := newApp(ctx, &cli.Globals, os.Stdout)
	kctx.FatalIfErrorf(err)
	err = kctx.Run(app)
	if ferr := app.finish(); err == nil {
		err = ferr
	}
	kctx.FatalIfErrorf(err)
}
