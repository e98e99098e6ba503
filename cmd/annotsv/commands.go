package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/FocuswithJustin/annotsv/core/cas"
	"github.com/FocuswithJustin/annotsv/core/sqlite"
	"github.com/FocuswithJustin/annotsv/core/tagger"
	"github.com/FocuswithJustin/annotsv/core/tsv"
	"github.com/FocuswithJustin/annotsv/internal/batch"
	"github.com/FocuswithJustin/annotsv/internal/fileutil"
	"github.com/FocuswithJustin/annotsv/internal/logging"
)

// decodeFile reads and decodes one TSV input, recording the outcome under operation.
func (a *App) decodeFile(operation, path, layout string) (*tsv.Result, error) {
	start := time.Now()
	dec, err := a.decoder(layout)
	if err != nil {
		return nil, err
	}
	r, err := fileutil.Open(path)
	if err != nil {
		a.recorder.Failure(operation)
		return nil, err
	}
	defer r.Close()

	res, err := dec.Decode(a.ctx, r)
	if err != nil {
		a.recorder.Failure(operation)
		logging.ConversionFailed(a.ctx, operation, path, err)
		return nil, err
	}
	doc := res.Document
	for _, w := range res.Warnings {
		a.recorder.Warning(batch.WarningKind(w))
	}
	a.recorder.Document(operation, len(doc.Sentences()), len(doc.Tokens()), time.Since(start))
	logging.ConversionDone(logging.WithDocumentID(a.ctx, doc.ID), operation, path, time.Since(start),
		"layout", string(res.Layout), "warnings", len(res.Warnings))
	return res, nil
}

// encodeTo writes store as fixed-layout TSV to path and returns the loss report.
func (a *App) encodeTo(path string, store cas.Store, metadata bool) (*tsv.LossReport, error) {
	var report *tsv.LossReport
	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		var err error
		report, err = a.encoder(metadata).Encode(a.ctx, w, store)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, e := range report.LostElements {
		a.recorder.Lost(e.ElementType, 1)
		logging.Debug("lost element", "path", e.Path, "type", e.ElementType, "reason", e.Reason)
	}
	if report.HasLoss() {
		logging.Warn("encoding lost annotations", "loss_class", string(report.LossClass), "count", len(report.LostElements))
	}
	return report, nil
}

// snapshot saves doc to path, or to the configured store when path is empty. It does
// nothing when neither is set.
func (a *App) snapshot(path string, doc *cas.Document) error {
	if path == "" && a.config.Store.Path == "" {
		return nil
	}
	store, err := a.openStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveDocument(a.ctx, doc)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFile(path, append(data, '\n'))
}

// DecodeCmd decodes a TSV document to JSON.
type DecodeCmd struct {
	Input  string `arg:"" optional:"" default:"-" help:"TSV input (- for stdin, .xz accepted)"`
	Out    string `short:"o" default:"-" help:"JSON output path"`
	Layout string `help:"Row layout (auto, header, fixed)"`
	Store  string `help:"Also save a snapshot in this SQLite database (default from config)" type:"path"`
}

type decodeOutput struct {
	Layout   string        `json:"layout"`
	Schema   string        `json:"schema,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Document *cas.Document `json:"document"`
}

func (c *DecodeCmd) Run(app *App) error {
	res, err := app.decodeFile("decode", c.Input, c.Layout)
	if err != nil {
		return err
	}
	out := decodeOutput{Layout: string(res.Layout), Document: res.Document}
	if res.Schema != nil {
		out.Schema = res.Schema.String()
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	if err := app.snapshot(c.Store, res.Document); err != nil {
		return err
	}
	return writeJSON(c.Out, out)
}

// EncodeCmd re-encodes a TSV document in the fixed layout.
type EncodeCmd struct {
	Input    string `arg:"" optional:"" default:"-" help:"TSV input (- for stdin, .xz accepted)"`
	Out      string `short:"o" default:"-" help:"TSV output path (.xz compresses)"`
	Layout   string `help:"Input row layout (auto, header, fixed)"`
	Metadata bool   `help:"Emit #id= and #text= lines before each sentence"`
	Report   string `help:"Write the loss report as JSON to this path" type:"path"`
}

func (c *EncodeCmd) Run(app *App) error {
	res, err := app.decodeFile("encode", c.Input, c.Layout)
	if err != nil {
		return err
	}
	report, err := app.encodeTo(c.Out, res.Document, c.Metadata)
	if err != nil {
		return err
	}
	if c.Report != "" {
		return writeJSON(c.Report, report)
	}
	return nil
}

// TagCmd annotates plain text and writes it as TSV.
type TagCmd struct {
	Input      string `arg:"" optional:"" default:"-" help:"Plain text input (- for stdin)"`
	Out        string `short:"o" default:"-" help:"TSV output path"`
	ID         string `help:"Document ID (default: random UUID)"`
	Metadata   bool   `help:"Emit #id= and #text= lines before each sentence"`
	NoTags     bool   `help:"Do not add part-of-speech tags"`
	NoEntities bool   `help:"Do not add named entities"`
	Store      string `help:"Also save a snapshot in this SQLite database (default from config)" type:"path"`
}

func (c *TagCmd) Run(app *App) error {
	start := time.Now()
	text, err := fileutil.ReadFile(c.Input)
	if err != nil {
		return err
	}
	t := tagger.New(tagger.Config{
		TypeSystem: app.types,
		Tagging:    app.config.Tagger.Tagging && !c.NoTags,
		Entities:   app.config.Tagger.Entities && !c.NoEntities,
	})
	doc, err := t.Tag(app.ctx, c.ID, string(text))
	if err != nil {
		app.recorder.Failure("tag")
		return err
	}
	app.recorder.Document("tag", len(doc.Sentences()), len(doc.Tokens()), time.Since(start))
	if err := app.snapshot(c.Store, doc); err != nil {
		return err
	}
	_, err = app.encodeTo(c.Out, doc, c.Metadata)
	return err
}

// VerifyCmd checks that encode(decode(encode(d))) equals encode(d).
type VerifyCmd struct {
	Input    string `arg:"" optional:"" default:"-" help:"TSV input (- for stdin, .xz accepted)"`
	Layout   string `help:"Input row layout (auto, header, fixed)"`
	Metadata bool   `help:"Include sentence metadata in the comparison"`
}

func (c *VerifyCmd) Run(app *App) error {
	res, err := app.decodeFile("verify", c.Input, c.Layout)
	if err != nil {
		return err
	}
	rt, err := tsv.RoundTrip(app.ctx, res.Document, tsv.EncoderConfig{Metadata: c.Metadata || app.config.Encode.Metadata})
	if err != nil {
		return err
	}
	if !rt.Equal {
		fmt.Fprint(app.stdout, rt.Diff)
		return fmt.Errorf("round trip of %s is not stable", c.Input)
	}
	fmt.Fprintf(app.stdout, "ok %s loss=%s sha256=%s blake3=%s\n",
		res.Document.ID, rt.Loss.LossClass, rt.Fingerprint.SHA256, rt.Fingerprint.BLAKE3)
	return nil
}

// BatchCmd converts every matching file in a directory.
type BatchCmd struct {
	Input       string `arg:"" help:"Input directory" type:"existingdir"`
	Out         string `short:"o" required:"" help:"Output directory" type:"path"`
	Workers     int    `short:"w" help:"Concurrent conversions (default from config)"`
	Pattern     string `help:"File name glob (default from config)"`
	Layout      string `help:"Input row layout (auto, header, fixed)"`
	Metadata    bool   `help:"Emit #id= and #text= lines before each sentence"`
	Store       string `help:"Save a snapshot of every document in this SQLite database" type:"path"`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this textfile" type:"path"`
}

func (c *BatchCmd) Run(app *App) error {
	cfg := batch.DefaultConfig()
	cfg.Workers = app.config.Batch.Workers
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	pattern := app.config.Batch.Pattern
	if c.Pattern != "" {
		pattern = c.Pattern
	}
	if c.MetricsFile != "" {
		app.config.Metrics.File = c.MetricsFile
	}

	layout := app.config.Layout()
	if c.Layout != "" {
		var err error
		if layout, err = tsv.ParseLayout(c.Layout); err != nil {
			return err
		}
	}
	cfg.Decoder = tsv.DecoderConfig{TypeSystem: app.types, Layout: layout}
	cfg.Encoder = tsv.EncoderConfig{Metadata: c.Metadata || app.config.Encode.Metadata}
	cfg.Recorder = app.recorder

	if c.Store != "" || app.config.Store.Path != "" {
		store, err := app.openStore(c.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.Store = store
	}

	jobs, err := batch.Plan(c.Input, c.Out, pattern)
	if err != nil {
		return err
	}
	results, err := batch.Run(app.ctx, cfg, jobs)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INPUT\tSENTENCES\tWARNINGS\tLOSS\tSTATUS")
	for _, r := range results {
		status, loss := "ok", "-"
		if r.Err != nil {
			status = r.Err.Error()
		} else if r.Loss != nil {
			loss = string(r.Loss.LossClass)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.Input, r.Sentences, len(r.Warnings), loss, status)
	}
	w.Flush()

	sum := batch.Summarize(results)
	logging.Info("batch finished", "documents", sum.Documents, "failed", sum.Failed,
		"sentences", sum.Sentences, "warnings", sum.Warnings, "lost", sum.Lost)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", sum.Failed, len(results))
	}
	return nil
}

// SchemaCmd prints the layer schema of a TSV document.
type SchemaCmd struct {
	Input string `arg:"" optional:"" default:"-" help:"TSV input (- for stdin, .xz accepted)"`
}

func (c *SchemaCmd) Run(app *App) error {
	res, err := app.decodeFile("schema", c.Input, "")
	if err != nil {
		return err
	}
	if res.Schema == nil {
		fmt.Fprintf(app.stdout, "%s layout, 10 columns\n", res.Layout)
		return nil
	}
	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tLAYER\tFEATURES\tATTACH")
	for _, l := range res.Schema.Layers {
		attach := "-"
		if l.Attach != nil {
			attach = l.Attach.ShortName()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", l.Column, l.Type.Name, strings.Join(l.Features, ","), attach)
	}
	fmt.Fprintf(w, "\t%d columns\t\t\n", res.Schema.Fields())
	return w.Flush()
}

// TypesCmd lists the annotation types known to the type system.
type TypesCmd struct {
	JSON bool `help:"Output as JSON"`
}

type typeInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Features []string `json:"features,omitempty"`
	AttachTo string   `json:"attach_to,omitempty"`
}

func (c *TypesCmd) Run(app *App) error {
	var infos []typeInfo
	for _, t := range app.types.Types() {
		infos = append(infos, typeInfo{Name: t.Name, Kind: t.Kind.String(), Features: t.Features, AttachTo: t.AttachTo})
	}
	if c.JSON {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tFEATURES")
	for _, i := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", i.Name, i.Kind, strings.Join(i.Features, ","))
	}
	return w.Flush()
}

// StoreListCmd lists stored documents.
type StoreListCmd struct {
	Store string `help:"SQLite database (default from config)" type:"path"`
}

func (c *StoreListCmd) Run(app *App) error {
	store, err := app.openStore(c.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	docs, err := store.ListDocuments(app.ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENTENCES\tTOKENS\tSAVED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.ID, d.Sentences, d.Tokens, d.SavedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// StoreExportCmd encodes a stored document.
type StoreExportCmd struct {
	ID       string `arg:"" help:"Document ID"`
	Out      string `short:"o" default:"-" help:"TSV output path"`
	Metadata bool   `help:"Emit #id= and #text= lines before each sentence"`
	Store    string `help:"SQLite database (default from config)" type:"path"`
}

func (c *StoreExportCmd) Run(app *App) error {
	store, err := app.openStore(c.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	doc, err := store.LoadDocument(app.ctx, c.ID, app.types)
	if err != nil {
		return err
	}
	_, err = app.encodeTo(c.Out, doc, c.Metadata)
	return err
}

// StoreDeleteCmd removes a stored document.
type StoreDeleteCmd struct {
	ID    string `arg:"" help:"Document ID"`
	Store string `help:"SQLite database (default from config)" type:"path"`
}

func (c *StoreDeleteCmd) Run(app *App) error {
	store, err := app.openStore(c.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteDocument(app.ctx, c.ID)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.stdout, "annotsv version %s (sqlite %s)\n", version, sqlite.DriverType())
	return nil
}
