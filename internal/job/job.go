package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/arukereso-extractor/internal/archive"
	"github.com/ignite/arukereso-extractor/internal/config"
	"github.com/ignite/arukereso-extractor/internal/feed"
	"github.com/ignite/arukereso-extractor/internal/ledger"
	"github.com/ignite/arukereso-extractor/internal/metrics"
	"github.com/ignite/arukereso-extractor/internal/output"
	"github.com/ignite/arukereso-extractor/internal/pkg/distlock"
	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
	"github.com/ignite/arukereso-extractor/internal/remote"
	"github.com/ignite/arukereso-extractor/internal/watermark"
)

// ErrNoNewFiles reports a successful run that found nothing to process.
var ErrNoNewFiles = errors.New("no new files to process")

// Failure stages used in logs, metrics and the ledger.
const (
	StageDownload = "download"
	StageParse    = "parse"
)

// Deps are the collaborators of a run. Only OpenSource is required.
type Deps struct {
	OpenSource func(ctx context.Context) (remote.Source, error)
	Lock       distlock.Lock
	Ledger     *ledger.Ledger
	Warehouse  func(ctx context.Context, columns []string) (output.Sink, error)
	Archiver   *archive.Archiver
	Metrics    *metrics.Registry
}

// Result summarises a finished run.
type Result struct {
	RunID             uuid.UUID
	PreviousWatermark float64
	Watermark         float64
	Selected          []string
	Processed         []string
	Failed            []string
	Records           int
}

// Job runs one incremental extraction.
type Job struct {
	cfg  *config.Config
	deps Deps
	log  *logger.Logger
	now  func() time.Time
}

// New creates a job. A nil Metrics gets a private registry.
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Job {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Job{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Run executes the job. It returns ErrNoNewFiles, and writes nothing, when
// no remote file is newer than the stored watermark.
func (j *Job) Run(ctx context.Context) (Result, error) {
	started := j.now()
	res := Result{RunID: uuid.New()}
	p := j.cfg.Parameters
	log := j.log.With("run_id", res.RunID.String())
	m := j.deps.Metrics

	prev, err := watermark.Read(j.cfg.WatermarkInputPath())
	if err != nil {
		return res, err
	}
	res.PreviousWatermark, res.Watermark = prev, prev
	log.Info("watermark loaded", "previous_watermark", prev)

	driver, err := feed.NewDriver(feed.NewNormalizer(p.Retailer, j.cfg.ConstantFields()), p.FileEncoding)
	if err != nil {
		return res, err
	}

	if j.deps.Lock != nil {
		release, err := distlock.Hold(ctx, j.deps.Lock)
		if err != nil {
			return res, fmt.Errorf("run lock: %w", err)
		}
		defer func() {
			if rerr := release(); rerr != nil {
				log.Warn("failed to release run lock", "error", rerr)
			}
		}()
	}

	src, err := j.deps.OpenSource(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("failed to close remote session", "error", cerr)
		}
	}()

	entries, err := src.List(ctx, p.RemoteFolder)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", p.RemoteFolder, err)
	}
	sel := watermark.Select(entries, prev, p.FilenamePattern)
	for _, f := range sel.Files {
		res.Selected = append(res.Selected, f.Name)
	}
	m.FilesSelected.Add(float64(len(sel.Files)))
	log.Info("remote folder listed", "folder", p.RemoteFolder, "entries", len(entries), "selected", len(sel.Files))

	if sel.Empty() {
		j.recordRun(ctx, log, res, ledger.StatusSkipped)
		log.Info("no new files, nothing to do")
		return res, ErrNoNewFiles
	}
	res.Watermark = sel.Watermark

	j.beginRun(ctx, log, res)

	downloaded := j.download(ctx, log, src, sel.Files, &res)
	if cerr := src.Close(); cerr != nil {
		log.Warn("failed to close remote session", "error", cerr)
	}

	sinks, err := j.openSinks(ctx)
	if err != nil {
		j.recordRun(ctx, log, res, ledger.StatusFailed)
		return res, err
	}
	for _, f := range downloaded {
		j.processFile(ctx, log, driver, sinks, f, &res)
	}
	if err := sinks.Close(); err != nil {
		j.recordRun(ctx, log, res, ledger.StatusFailed)
		return res, fmt.Errorf("close output: %w", err)
	}

	if err := watermark.Write(j.cfg.WatermarkOutputPath(), res.Watermark); err != nil {
		j.recordRun(ctx, log, res, ledger.StatusFailed)
		return res, err
	}
	m.Watermark.Set(res.Watermark)
	m.LastSuccess.Set(float64(j.now().Unix()))
	m.Duration.Observe(j.now().Sub(started).Seconds())

	j.recordRun(ctx, log, res, ledger.StatusDone)
	j.archive(ctx, log, res)

	log.Info("run finished",
		"selected", len(res.Selected),
		"processed", len(res.Processed),
		"failed", len(res.Failed),
		"records", res.Records,
		"watermark", watermark.Format(res.Watermark))
	return res, nil
}

type staged struct {
	entry remote.Entry
	path  string
}

// download fetches every selected file. A failed download abandons that file only.
func (j *Job) download(ctx context.Context, log *logger.Logger, src remote.Source, files []remote.Entry, res *Result) []staged {
	dir := j.cfg.DownloadDir()
	var out []staged
	for _, f := range files {
		local := filepath.Join(dir, f.Name)
		j.startFile(ctx, log, res.RunID, f)
		if err := src.Fetch(ctx, remote.Join(j.cfg.Parameters.RemoteFolder, f.Name), local); err != nil {
			log.Error("download failed, skipping file", "file", f.Name, "error", err)
			j.failFile(ctx, log, res, f.Name, StageDownload, 0, err)
			continue
		}
		log.Debug("downloaded", "file", f.Name, "size", f.Size, "local_path", local)
		out = append(out, staged{entry: f, path: local})
	}
	return out
}

func (j *Job) processFile(ctx context.Context, log *logger.Logger, driver *feed.Driver, sink output.Sink, f staged, res *Result) {
	records := 0
	counting := feed.SinkFunc(func(rec feed.Record) error {
		if err := sink.Write(rec); err != nil {
			return err
		}
		records++
		return nil
	})

	fr, err := driver.ProcessFile(f.path, f.entry.Name, counting)
	res.Records += records
	j.deps.Metrics.Records.Add(float64(records))
	if err != nil {
		log.Error("file processing failed, abandoning file", "file", f.entry.Name, "records_written", records, "error", err)
		j.failFile(ctx, log, res, f.entry.Name, StageParse, records, err)
		return
	}

	res.Processed = append(res.Processed, f.entry.Name)
	j.deps.Metrics.FilesDone.Inc()
	log.Info("file processed", "file", f.entry.Name, "file_timestamp", fr.Timestamp, "rows", fr.Rows, "records", fr.Records)
	if j.deps.Ledger != nil {
		if err := j.deps.Ledger.FinishFile(ctx, res.RunID, f.entry.Name, records, nil); err != nil {
			log.Warn("ledger update failed", "file", f.entry.Name, "error", err)
		}
	}
}

func (j *Job) openSinks(ctx context.Context) (output.Multi, error) {
	cols := j.cfg.Parameters.WantedColumns
	table, err := output.CreateTable(j.cfg.ResultsPath(), cols)
	if err != nil {
		return nil, err
	}
	sinks := output.Multi{table}
	if j.deps.Warehouse != nil {
		wh, err := j.deps.Warehouse(ctx, cols)
		if err != nil {
			table.Close()
			return nil, fmt.Errorf("open warehouse sink: %w", err)
		}
		sinks = append(sinks, wh)
	}
	return sinks, nil
}

func (j *Job) failFile(ctx context.Context, log *logger.Logger, res *Result, name, stage string, records int, cause error) {
	res.Failed = append(res.Failed, name)
	j.deps.Metrics.FilesFailed.WithLabelValues(stage).Inc()
	if j.deps.Ledger == nil {
		return
	}
	if err := j.deps.Ledger.FinishFile(ctx, res.RunID, name, records, fmt.Errorf("%s: %w", stage, cause)); err != nil {
		log.Warn("ledger update failed", "file", name, "error", err)
	}
}

func (j *Job) startFile(ctx context.Context, log *logger.Logger, runID uuid.UUID, f remote.Entry) {
	if j.deps.Ledger == nil {
		return
	}
	if err := j.deps.Ledger.StartFile(ctx, runID, f.Name, f.ModTime); err != nil {
		log.Warn("ledger update failed", "file", f.Name, "error", err)
	}
}

func (j *Job) beginRun(ctx context.Context, log *logger.Logger, res Result) {
	if j.deps.Ledger == nil {
		return
	}
	if err := j.deps.Ledger.BeginRun(ctx, res.RunID, res.PreviousWatermark); err != nil {
		log.Warn("ledger update failed", "error", err)
	}
}

// recordRun closes the ledger run. Skipped runs are opened and closed here.
func (j *Job) recordRun(ctx context.Context, log *logger.Logger, res Result, status string) {
	if j.deps.Ledger == nil {
		return
	}
	if status == ledger.StatusSkipped {
		j.beginRun(ctx, log, res)
	}
	if err := j.deps.Ledger.FinishRun(ctx, res.RunID, status, res.Watermark, len(res.Processed), res.Records); err != nil {
		log.Warn("ledger update failed", "error", err)
	}
}

func (j *Job) archive(ctx context.Context, log *logger.Logger, res Result) {
	if j.deps.Archiver == nil {
		return
	}
	keys, err := j.deps.Archiver.Upload(ctx, archive.Manifest{
		RunID:             res.RunID.String(),
		PreviousWatermark: res.PreviousWatermark,
		Watermark:         res.Watermark,
		Files:             res.Processed,
		FailedFiles:       res.Failed,
		Records:           res.Records,
	}, j.cfg.ResultsPath(), j.cfg.WatermarkOutputPath())
	if err != nil {
		log.Warn("archive upload failed", "error", err)
		return
	}
	log.Info("outputs archived", "objects", len(keys))
}
