// Package runner executes the per-source pipeline for every configured
// source and reports the outcome of each.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pevans/sitefeed/dates"
	"github.com/pevans/sitefeed/discovery"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

// Pipeline stages a failure can be attributed to.
const (
	StageFetch      = "fetch"
	StageParse      = "parse"
	StageCollect    = "collect"
	StageSynthesize = "synthesize"
	StageWrite      = "write"
)

// ZeroRecordsWarning marks a successful run that produced an empty feed.
const ZeroRecordsWarning = "zero records"

// DefaultFailureThreshold is the number of consecutive failed runs after
// which a source is reported at ERROR level.
const DefaultFailureThreshold = 3

// Report is the outcome of one source.
type Report struct {
	Source         string           `json:"source"`
	OK             bool             `json:"ok"`
	ItemCount      int              `json:"item_count"`
	Stage          string           `json:"stage,omitempty"`
	Error          string           `json:"error,omitempty"`
	Warning        string           `json:"warning,omitempty"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	OutputPath     string           `json:"output_path,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	Stats          *discovery.Stats `json:"stats,omitempty"`
}

// RunReport collects the reports of one batch in input order.
type RunReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Report  `json:"results"`
}

// Failed returns the number of failed sources.
func (r *RunReport) Failed() int {
	n := 0
	for _, rep := range r.Results {
		if !rep.OK {
			n++
		}
	}
	return n
}

// StateRecorder persists run outcomes.
type StateRecorder interface {
	RecordRun(ctx context.Context, run sources.Run) (*sources.Source, error)
}

// Options configure a Runner.
type Options struct {
	Fetcher   *discovery.HTTPFetcher
	Collector *discovery.Collector
	Store     *newsfeed.Store
	// State is optional; without it reports are not persisted.
	State StateRecorder
	// Concurrency bounds the number of sources processed at once. Values
	// below one run sources sequentially.
	Concurrency int
	// SourceDeadline bounds the whole pipeline of one source.
	SourceDeadline   time.Duration
	FailureThreshold int
	Clock            dates.Clock
	Logger           *slog.Logger
}

// Runner runs the pipeline of every source.
type Runner struct {
	fetcher          *discovery.HTTPFetcher
	collector        *discovery.Collector
	store            *newsfeed.Store
	state            StateRecorder
	concurrency      int
	sourceDeadline   time.Duration
	failureThreshold int
	clock            dates.Clock
	logger           *slog.Logger
}

// New creates a runner.
func New(opts Options) *Runner {
	r := &Runner{
		fetcher:          opts.Fetcher,
		collector:        opts.Collector,
		store:            opts.Store,
		state:            opts.State,
		concurrency:      opts.Concurrency,
		sourceDeadline:   opts.SourceDeadline,
		failureThreshold: opts.FailureThreshold,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.failureThreshold < 1 {
		r.failureThreshold = DefaultFailureThreshold
	}
	if r.clock == nil {
		r.clock = dates.SystemClock
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.fetcher == nil {
		r.fetcher = discovery.NewHTTPFetcher(discovery.FetcherOptions{Logger: r.logger})
	}
	if r.collector == nil {
		r.collector = discovery.NewCollector(discovery.CollectorOptions{
			Normalizer: dates.NewNormalizer(r.clock),
			Logger:     r.logger,
		})
	}
	return r
}

// RunAll runs every source and returns one report per source in input
// order. A failing source never stops the others.
func (r *Runner) RunAll(ctx context.Context, configs []scraper.SourceConfig) *RunReport {
	report := &RunReport{
		StartedAt: r.clock.Now().UTC(),
		Results:   make([]Report, len(configs)),
	}

	r.logger.Info("run starting", "sources", len(configs), "concurrency", r.concurrency)

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, cfg := range configs {
		select {
		case <-ctx.Done():
			report.Results[i] = r.cancelled(cfg, ctx.Err())
			continue
		case sem <- struct{}{}: // Acquire semaphore
		}

		wg.Add(1)
		go func(i int, cfg scraper.SourceConfig) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			report.Results[i] = r.RunSource(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	report.FinishedAt = r.clock.Now().UTC()
	r.record(ctx, report.Results)

	r.logger.Info("run finished", "sources", len(configs), "failed", report.Failed(),
		"elapsed", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// RunSource runs the pipeline of one source. Errors and panics are recorded
// in the report with the stage they happened in.
func (r *Runner) RunSource(ctx context.Context, cfg scraper.SourceConfig) (rep Report) {
	cfg.ApplyDefaults()
	logger := r.logger.With("source", cfg.Name)

	started := time.Now()
	rep = Report{Source: cfg.Name, StartedAt: r.clock.Now().UTC()}
	stage := StageFetch

	defer func() {
		if p := recover(); p != nil {
			rep.OK = false
			rep.ItemCount = 0
			rep.OutputPath = ""
			rep.Error = fmt.Sprintf("panic: %v", p)
		}
		if !rep.OK {
			rep.Stage = stage
		}
		rep.ElapsedSeconds = time.Since(started).Seconds()
		r.logReport(logger, rep)
	}()

	logger.Info("source starting", "url", cfg.URL, "kind", cfg.Kind)

	if r.sourceDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sourceDeadline)
		defer cancel()
	}

	fetcher := r.fetcher.ForSource(&cfg)
	page, err := fetcher.Fetch(ctx, cfg.URL)
	if err != nil {
		rep.Error = err.Error()
		if discovery.IsPermanent(err) {
			logger.Warn("permanent fetch error", "error", err)
		}
		return rep
	}

	stage = StageParse
	var collection discovery.Collection
	switch cfg.Kind {
	case scraper.KindFeed:
		feed, err := discovery.ParseFeed(page.Body)
		if err != nil {
			rep.Error = err.Error()
			return rep
		}
		stage = StageCollect
		collection = r.collector.CollectFeed(feed, &cfg, page.URL)
	default:
		doc, err := discovery.ParseDocument(page)
		if err != nil {
			rep.Error = err.Error()
			return rep
		}
		stage = StageCollect
		collection = r.collector.WithFetcher(fetcher).Collect(ctx, doc, &cfg, page.URL)
	}
	rep.Stats = &collection.Stats

	stage = StageSynthesize
	meta := newsfeed.FeedMeta{
		Title:       cfg.Feed.Title,
		Link:        cfg.Feed.Link,
		Description: cfg.Feed.Description,
		Language:    cfg.Feed.Language,
	}
	model, err := newsfeed.Synthesize(meta, collection.Records)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	stage = StageWrite
	path, err := r.store.Write(cfg.Name, model, r.clock.Now())
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	rep.OK = true
	rep.ItemCount = len(model.Items)
	rep.OutputPath = path
	if rep.ItemCount == 0 {
		rep.Warning = ZeroRecordsWarning
	}
	return rep
}

func (r *Runner) cancelled(cfg scraper.SourceConfig, err error) Report {
	rep := Report{
		Source:    cfg.Name,
		Stage:     StageFetch,
		Error:     fmt.Sprintf("not started: %v", err),
		StartedAt: r.clock.Now().UTC(),
	}
	r.logReport(r.logger.With("source", cfg.Name), rep)
	return rep
}

func (r *Runner) logReport(logger *slog.Logger, rep Report) {
	switch {
	case !rep.OK:
		logger.Error("source failed", "stage", rep.Stage, "error", rep.Error,
			"elapsed", rep.ElapsedSeconds)
	case rep.Warning != "":
		logger.Warn("source finished with warning", "warning", rep.Warning,
			"elapsed", rep.ElapsedSeconds)
	default:
		logger.Info("source finished", "items", rep.ItemCount, "output", rep.OutputPath,
			"elapsed", rep.ElapsedSeconds)
	}
}

// record persists reports one at a time after the batch, so the state
// store only ever sees a single writer.
func (r *Runner) record(ctx context.Context, results []Report) {
	if r.state == nil {
		return
	}

	// Persist even when the batch context ran out.
	ctx = context.WithoutCancel(ctx)

	for _, rep := range results {
		source, err := r.state.RecordRun(ctx, sources.Run{
			Source:         rep.Source,
			StartedAt:      rep.StartedAt,
			ElapsedSeconds: rep.ElapsedSeconds,
			OK:             rep.OK,
			ItemCount:      rep.ItemCount,
			Stage:          rep.Stage,
			Error:          rep.Error,
			Warning:        rep.Warning,
			OutputPath:     rep.OutputPath,
		})
		if err != nil {
			r.logger.Error("failed to record run", "source", rep.Source, "error", err)
			continue
		}

		if source.FetchErrorCount >= r.failureThreshold {
			r.logger.Error("source failing repeatedly", "source", rep.Source,
				"consecutive_failures", source.FetchErrorCount, "last_error", rep.Error)
		}
	}
}
