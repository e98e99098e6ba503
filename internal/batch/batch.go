// Package batch converts directories of TSV documents in parallel.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/annotsv/core/cas"
	cerrors "github.com/FocuswithJustin/annotsv/core/errors"
	"github.com/FocuswithJustin/annotsv/core/sqlite"
	"github.com/FocuswithJustin/annotsv/core/tsv"
	"github.com/FocuswithJustin/annotsv/internal/fileutil"
	"github.com/FocuswithJustin/annotsv/internal/logging"
	"github.com/FocuswithJustin/annotsv/internal/metrics"
)

// Operation is the metrics label used for batch conversions.
const Operation = "batch"

// Job converts one input file into one output file.
type Job struct {
	Input  string
	Output string
}

// Result is the outcome of one job.
type Result struct {
	Job
	DocumentID string
	Sentences  int
	Tokens     int
	Warnings   []error
	Loss       *tsv.LossReport
	Duration   time.Duration
	Err        error
}

// Config configures a batch run.
type Config struct {
	// Workers bounds the number of concurrent conversions.
	Workers int

	Decoder tsv.DecoderConfig
	Encoder tsv.EncoderConfig

	// Recorder receives counts when set.
	Recorder *metrics.Recorder

	// Store receives a snapshot of every decoded document when set.
	Store *sqlite.Store
}

// DefaultConfig returns a configuration with four workers.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Plan lists the files in inputDir matching pattern, paired with output paths in
// outputDir. Outputs keep the input's base name and xz compression with a .tsv
// extension.
func Plan(inputDir, outputDir, pattern string) ([]Job, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, cerrors.NewIO("read directory", inputDir, err)
	}

	var jobs []Job
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, cerrors.NewValidation("pattern", err.Error())
		}
		if !ok {
			continue
		}
		in := filepath.Join(inputDir, e.Name())
		name := fileutil.BaseName(in) + ".tsv"
		if fileutil.IsCompressed(in) {
			name += ".xz"
		}
		jobs = append(jobs, Job{Input: in, Output: filepath.Join(outputDir, name)})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Input < jobs[j].Input })
	return jobs, nil
}

// DocumentID derives a stable document ID from an input path.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

// Run converts every job. A failing job is reported in its Result and does not stop
// the others; Run itself fails only when ctx is cancelled.
func Run(ctx context.Context, config Config, jobs []Job) ([]Result, error) {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	results := make([]Result, len(jobs))
	r := &runner{config: config}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.convert(gctx, job)
			if errors.Is(results[i].Err, context.Canceled) {
				return results[i].Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

type runner struct {
	config  Config
	storeMu sync.Mutex
}

func (r *runner) convert(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{Job: job, DocumentID: DocumentID(job.Input)}
	ctx = logging.WithDocumentID(ctx, res.DocumentID)

	err := r.run(ctx, &res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		logging.ConversionFailed(ctx, Operation, job.Input, err)
		if rec := r.config.Recorder; rec != nil {
			rec.Failure(Operation)
		}
		return res
	}

	logging.ConversionDone(ctx, Operation, job.Input, res.Duration,
		"output", job.Output, "sentences", res.Sentences, "warnings", len(res.Warnings))
	if rec := r.config.Recorder; rec != nil {
		rec.Document(Operation, res.Sentences, res.Tokens, res.Duration)
		for _, w := range res.Warnings {
			rec.Warning(WarningKind(w))
		}
		for element, n := range lossCounts(res.Loss) {
			rec.Lost(element, n)
		}
	}
	return res
}

func (r *runner) run(ctx context.Context, res *Result) error {
	in, err := fileutil.Open(res.Input)
	if err != nil {
		return cerrors.NewIO("open", res.Input, err)
	}
	defer in.Close()

	dc := r.config.Decoder
	dc.DocumentID = res.DocumentID
	decoded, err := tsv.NewDecoder(dc).Decode(ctx, in)
	if err != nil {
		return fmt.Errorf("%s: %w", res.Input, err)
	}
	doc := decoded.Document
	res.Warnings = decoded.Warnings
	res.Sentences = len(doc.Sentences())
	res.Tokens = len(doc.Tokens())

	err = fileutil.WriteAtomic(res.Output, func(w io.Writer) error {
		loss, err := tsv.NewEncoder(r.config.Encoder).Encode(ctx, w, doc)
		res.Loss = loss
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", res.Output, err)
	}
	return r.snapshot(ctx, doc)
}

func (r *runner) snapshot(ctx context.Context, doc *cas.Document) error {
	if r.config.Store == nil {
		return nil
	}
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	return r.config.Store.SaveDocument(ctx, doc)
}

// WarningKind names the category of a decode warning for metrics.
func WarningKind(err error) string {
	switch {
	case errors.Is(err, cerrors.ErrTruncatedDocument):
		return "truncated"
	case errors.Is(err, cerrors.ErrUnresolvedEndpoint):
		return "unresolved"
	}
	return "other"
}

func lossCounts(report *tsv.LossReport) map[string]int {
	out := make(map[string]int)
	if report == nil {
		return out
	}
	for _, e := range report.LostElements {
		out[e.ElementType]++
	}
	return out
}

// Summary totals a run's results.
type Summary struct {
	Documents int
	Failed    int
	Sentences int
	Warnings  int
	Lost      int
}

// Summarize totals results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		s.Documents++
		s.Sentences += r.Sentences
		s.Warnings += len(r.Warnings)
		if r.Loss != nil {
			s.Lost += len(r.Loss.LostElements)
		}
	}
	return s
}
