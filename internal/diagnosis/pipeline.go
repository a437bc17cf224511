package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/objectstore"
)

const (
	msgDownloading = "Downloading refrigerator video from storage..."
	msgUploading   = "Uploading to AI analysis service..."
	msgWaiting     = "Waiting for video processing..."
	msgAnalyzing   = "Analyzing refrigerator and diagnosing issues..."
	msgCleaning    = "Cleaning up temporary files..."
	msgSaving      = "Saving diagnosis to database..."
	msgComplete    = "Refrigerator diagnosis completed successfully!"

	defaultCleanupTimeout = 30 * time.Second
)

// Fetcher downloads the source video.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*objectstore.Object, error)
}

// RemoteFiles uploads the video to the inference service and manages its lifecycle.
type RemoteFiles interface {
	Upload(ctx context.Context, data []byte, displayName, mimeType string) (*models.RemoteFileHandle, error)
	WaitUntilActive(ctx context.Context, name string, timeout time.Duration) (*models.RemoteFileHandle, error)
	Delete(ctx context.Context, name string) error
}

// Generator answers a prompt about an uploaded file.
type Generator interface {
	Generate(ctx context.Context, file models.RemoteFileHandle, prompt string) (string, error)
}

// Store persists finished diagnoses.
type Store interface {
	Insert(ctx context.Context, d *models.Diagnosis) (*models.Diagnosis, error)
}

// OrphanRecorder remembers remote files whose deletion failed.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, name string, cause error) error
}

// Emit delivers one event to the caller. An error means nobody is listening.
type Emit func(models.ProgressEvent) error

// Request starts one pipeline run.
type Request struct {
	StorageKey      string
	FileName        string
	UserDescription string
}

// Options tune a Pipeline. Zero values pick defaults.
type Options struct {
	Model             string
	ProcessingTimeout time.Duration
	CleanupTimeout    time.Duration
	Metrics           *Metrics
	Orphans           OrphanRecorder
}

// Pipeline turns a stored video into a persisted diagnosis.
type Pipeline struct {
	fetcher   Fetcher
	files     RemoteFiles
	generator Generator
	store     Store
	orphans   OrphanRecorder
	metrics   *Metrics

	model             string
	processingTimeout time.Duration
	cleanupTimeout    time.Duration
	now               func() time.Time
}

func NewPipeline(fetcher Fetcher, files RemoteFiles, generator Generator, store Store, opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:           fetcher,
		files:             files,
		generator:         generator,
		store:             store,
		orphans:           opts.Orphans,
		metrics:           opts.Metrics,
		model:             opts.Model,
		processingTimeout: opts.ProcessingTimeout,
		cleanupTimeout:    opts.CleanupTimeout,
		now:               time.Now,
	}
	if p.processingTimeout <= 0 {
		p.processingTimeout = 300 * time.Second
	}
	if p.cleanupTimeout <= 0 {
		p.cleanupTimeout = defaultCleanupTimeout
	}
	return p
}

// stageError tags a failure with the stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

var stageFailure = map[string]string{
	"download": "Failed to download video from storage",
	"upload":   "Failed to upload video to AI analysis service",
	"wait":     "Video processing did not complete",
	"generate": "Failed to diagnose refrigerator",
	"save":     "Failed to save diagnosis to database",
}

// Run executes every stage in order and reports progress through emit. It
// always finishes with exactly one complete or error event, which is also
// returned. Failures never escape as errors. If emit fails the remaining
// stages are cancelled but remote cleanup is still attempted.
func (p *Pipeline) Run(ctx context.Context, req Request, emit Emit) models.ProgressEvent {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{p: p, req: req, emit: emit, cancel: cancel}
	p.metrics.runStarted()
	slog.Info("diagnosis started", "storage_key", req.StorageKey, "file_name", req.FileName)

	outcome, err := r.execute(ctx)
	var final models.ProgressEvent
	if err != nil {
		final = models.ProgressEvent{Type: models.EventError, Message: failureMessage(err), Progress: r.percent}
		slog.Error("diagnosis failed", "storage_key", req.StorageKey, "kind", faults.Kind(err), "error", err)
		p.metrics.runFinished("error")
	} else {
		final = models.ProgressEvent{Type: models.EventComplete, Message: msgComplete, Progress: 100, Result: outcome}
		slog.Info("diagnosis completed", "storage_key", req.StorageKey, "diagnosis_id", outcome.DiagnosisID)
		p.metrics.runFinished("complete")
	}
	r.send(final)
	return final
}

type run struct {
	p       *Pipeline
	req     Request
	emit    Emit
	cancel  context.CancelFunc
	percent int
	gone    bool
}

func (r *run) send(ev models.ProgressEvent) {
	if r.gone || r.emit == nil {
		return
	}
	if err := r.emit(ev); err != nil {
		r.gone = true
		r.cancel()
		slog.Warn("progress listener gone, cancelling diagnosis", "storage_key", r.req.StorageKey, "error", err)
	}
}

// progress emits a step and reports whether the run may continue.
func (r *run) progress(ctx context.Context, percent int, msg string) error {
	if percent > r.percent {
		r.percent = percent
	}
	r.send(models.ProgressEvent{Type: models.EventProgress, Message: msg, Progress: r.percent})
	return ctx.Err()
}

func (r *run) stage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.p.metrics.observeStage(stage, time.Since(start), err)
	if err != nil {
		return &stageError{stage: stage, err: err}
	}
	return nil
}

func (r *run) execute(ctx context.Context) (*models.DiagnosisOutcome, error) {
	p := r.p

	if err := r.progress(ctx, 10, msgDownloading); err != nil {
		return nil, err
	}
	var obj *objectstore.Object
	if err := r.stage("download", func() (err error) {
		obj, err = p.fetcher.Fetch(ctx, r.req.StorageKey)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.progress(ctx, 30, msgUploading); err != nil {
		return nil, err
	}
	var uploaded *models.RemoteFileHandle
	if err := r.stage("upload", func() (err error) {
		uploaded, err = p.files.Upload(ctx, obj.Data, r.req.FileName, obj.ContentType)
		return err
	}); err != nil {
		return nil, err
	}
	obj = nil // the buffer is not needed while waiting

	lease := newLease(p, uploaded.Name)
	defer lease.release(ctx)

	if err := r.progress(ctx, 50, msgWaiting); err != nil {
		return nil, err
	}
	// Generation only ever sees the handle the waiter observed as ACTIVE.
	var active *models.RemoteFileHandle
	if err := r.stage("wait", func() (err error) {
		active, err = p.files.WaitUntilActive(ctx, uploaded.Name, p.processingTimeout)
		return err
	}); err != nil {
		return nil, err
	}
	if active.URI == "" {
		active.URI = uploaded.URI
	}
	if active.MimeType == "" {
		active.MimeType = uploaded.MimeType
	}

	if err := r.progress(ctx, 70, msgAnalyzing); err != nil {
		return nil, err
	}
	var audio, report, solutions string
	if err := r.stage("generate", func() error {
		var err error
		if audio, err = r.generate(ctx, *active, "audio summary", audioSummaryPrompt); err != nil {
			return err
		}
		if report, err = r.generate(ctx, *active, "diagnosis", diagnosisPrompt(r.req.UserDescription, active.Name, audio)); err != nil {
			return err
		}
		solutions, err = r.generate(ctx, *active, "solutions", solutionsPrompt(r.req.UserDescription))
		return err
	}); err != nil {
		return nil, err
	}
	audio = StripPreamble(audio)
	report = StripPreamble(report)
	solutions = StripPreamble(solutions)

	if err := r.progress(ctx, 85, msgCleaning); err != nil {
		return nil, err
	}
	lease.release(ctx)

	if err := r.progress(ctx, 90, msgSaving); err != nil {
		return nil, err
	}
	fields := ExtractFields(report)
	row := &models.Diagnosis{
		VideoID:          r.req.StorageKey,
		FileName:         r.req.FileName,
		VideoURL:         "s3://" + r.req.StorageKey,
		UserDescription:  r.req.UserDescription,
		Brand:            fields.Brand,
		Model:            fields.Model,
		RefrigeratorType: fields.RefrigeratorType,
		IssueCategory:    fields.IssueCategory,
		SeverityLevel:    fields.SeverityLevel,
		DiagnosisResult:  report,
		Solutions:        solutions,
		AudioSummary:     audio,
		AIModel:          p.model,
		CreatedAt:        p.now().UTC(),
	}
	var saved *models.Diagnosis
	if err := r.stage("save", func() (err error) {
		saved, err = p.store.Insert(ctx, row)
		if err != nil && !errors.Is(err, faults.ErrPersistence) {
			err = fmt.Errorf("%w: %v", faults.ErrPersistence, err)
		}
		return err
	}); err != nil {
		return nil, err
	}

	return &models.DiagnosisOutcome{
		DiagnosisID:     saved.ID,
		DiagnosisResult: report,
		Solutions:       solutions,
		AudioSummary:    audio,
		FileName:        r.req.FileName,
		StorageKey:      r.req.StorageKey,
		S3Key:           r.req.StorageKey,
		Fields:          fields,
	}, nil
}

func (r *run) generate(ctx context.Context, file models.RemoteFileHandle, what, prompt string) (string, error) {
	text, err := r.p.generator.Generate(ctx, file, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, faults.ErrGenerationFailed) {
			return "", fmt.Errorf("%s: %w", what, err)
		}
		return "", fmt.Errorf("%w: %s: %w", faults.ErrGenerationFailed, what, err)
	}
	return text, nil
}

// lease guarantees one deletion attempt for an uploaded file on every exit
// path. Release failures are logged and queued for the sweeper; they never
// replace the run's own error.
type lease struct {
	p    *Pipeline
	name string
	once sync.Once
}

func newLease(p *Pipeline, name string) *lease {
	return &lease{p: p, name: name}
}

func (l *lease) release(parent context.Context) {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.p.cleanupTimeout)
		defer cancel()
		start := time.Now()
		err := l.p.files.Delete(ctx, l.name)
		if errors.Is(err, faults.ErrNotFound) {
			err = nil
		}
		l.p.metrics.observeStage("cleanup", time.Since(start), err)
		if err == nil {
			slog.Info("remote file deleted", "name", l.name)
			return
		}
		slog.Warn("remote file cleanup failed", "name", l.name, "error", err)
		l.p.metrics.orphaned()
		if l.p.orphans == nil {
			return
		}
		if recErr := l.p.orphans.RecordOrphan(ctx, l.name, err); recErr != nil {
			slog.Warn("record remote file orphan failed", "name", l.name, "error", recErr)
		}
	})
}

func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Diagnosis cancelled"
	}
	var se *stageError
	if errors.As(err, &se) {
		prefix := stageFailure[se.stage]
		if prefix == "" {
			prefix = "Failed to diagnose refrigerator"
		}
		return prefix + ": " + strings.TrimSpace(se.err.Error())
	}
	return "Failed to diagnose refrigerator: " + err.Error()
}
