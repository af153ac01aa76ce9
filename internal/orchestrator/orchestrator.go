package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/fathom-train/internal/build"
	"github.com/seantiz/fathom-train/internal/config"
	"github.com/seantiz/fathom-train/internal/gateway"
	"github.com/seantiz/fathom-train/internal/model"
	"github.com/seantiz/fathom-train/internal/session"
	"github.com/seantiz/fathom-train/internal/store"
	"github.com/seantiz/fathom-train/internal/tempfile"
)

// artifactPattern names the temporary training bundle.
const artifactPattern = "fathom-training-*.js"

// Builder runs one bundler invocation.
type Builder interface {
	Build(ctx context.Context, cfg build.Config) error
}

// Session is an open browser session.
type Session interface {
	gateway.Commander
	Close() error
}

// Launcher starts a browser session.
type Launcher interface {
	Launch(ctx context.Context, cfg session.Config) (Session, error)
}

// Executor runs a script in a session and returns its result pair.
type Executor interface {
	ExecuteAsync(ctx context.Context, cmd gateway.Commander, req gateway.Request) (gateway.Result, error)
}

// Options are the per-run settings.
type Options struct {
	Binary           config.Binary
	WebpackBin       string
	RulesetConfig    string
	TrainingConfig   string
	ProjectRoot      string
	ScriptTimeout    time.Duration
	HandshakeTimeout time.Duration
	MarionettePort   int
	TempDir          string
}

// OptionsFromConfig builds run options from the loaded configuration.
func OptionsFromConfig(cfg config.Config, bin config.Binary) Options {
	return Options{
		Binary:           bin,
		WebpackBin:       cfg.WebpackBin,
		RulesetConfig:    cfg.ConfigPath(cfg.RulesetConfig),
		TrainingConfig:   cfg.ConfigPath(cfg.TrainingConfig),
		ProjectRoot:      cfg.ProjectRoot,
		ScriptTimeout:    cfg.ScriptTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MarionettePort:   cfg.MarionettePort,
		TempDir:          cfg.TempDir,
	}
}

// Deps are the collaborators of an Orchestrator. Store may be nil, in which
// case runs are not recorded. Stdout receives the result lines.
type Deps struct {
	Builder  Builder
	Launcher Launcher
	Executor Executor
	Store    store.Store
	Stdout   io.Writer
	Logger   *slog.Logger
}

// Orchestrator runs the training pipeline.
type Orchestrator struct {
	builder  Builder
	launcher Launcher
	executor Executor
	store    store.Store
	stdout   io.Writer
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	out := d.Stdout
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		builder:  d.Builder,
		launcher: d.Launcher,
		executor: d.Executor,
		store:    d.Store,
		stdout:   out,
		logger:   d.Logger,
	}
}

// Run executes one training run and returns its record. A failure is
// returned as *StageError naming the stage it happened in; the record is
// returned in either case.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.Run, error) {
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = gateway.DefaultTimeout
	}

	run := &model.Run{
		ID:           model.NewID(),
		Status:       model.StatusRunning,
		BinaryPath:   opts.Binary.Path,
		BinarySource: opts.Binary.Source,
		TimeoutMS:    opts.ScriptTimeout.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	o.recordCreate(run)

	logger := o.logger.With("run_id", run.ID)
	logger.Debug("run started", "binary", run.BinaryPath, "binary_source", run.BinarySource)

	p := &pipeline{o: o, run: run, logger: logger}
	err := p.execute(ctx, opts)
	o.finish(run, err, logger)
	return run, err
}

// finish moves the run to its terminal stage and records the outcome.
func (o *Orchestrator) finish(run *model.Run, err error, logger *slog.Logger) {
	now := time.Now().UTC()
	dur := now.Sub(run.CreatedAt).Milliseconds()
	run.DurationMS = &dur
	run.FinishedAt = &now

	failedIn := run.Stage
	if err != nil {
		run.Status = model.StatusFailed
		run.Stage = model.StageFailed
		run.Error = err.Error()
	} else {
		run.Status = model.StatusCompleted
		run.Stage = model.StageReported
	}

	runsTotal.WithLabelValues(run.Status).Inc()
	lastRunTimestamp.SetToCurrentTime()

	if o.store != nil {
		if serr := o.store.FinishRun(context.Background(), run); serr != nil {
			logger.Warn("failed to record run outcome", "error", serr)
		}
	}

	if err != nil {
		logger.Error("run failed", "stage", failedIn, "duration_ms", dur, "error", err)
		return
	}
	logger.Info("run completed", "duration_ms", dur)
}

func (o *Orchestrator) recordCreate(run *model.Run) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateRun(context.Background(), run); err != nil {
		o.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}
}

// pipeline carries the state of one run through its stages.
type pipeline struct {
	o          *Orchestrator
	run        *model.Run
	logger     *slog.Logger
	stageStart time.Time
}

// advance moves the run to stage. Transitions are forward-only.
func (p *pipeline) advance(stage string) error {
	if !model.ValidTransition(p.run.Stage, stage) {
		return fmt.Errorf("invalid stage transition %q -> %q", p.run.Stage, stage)
	}
	p.observeStage()
	p.run.Stage = stage
	p.stageStart = time.Now()

	if p.o.store != nil {
		if err := p.o.store.UpdateRunStage(context.Background(), p.run.ID, stage); err != nil {
			p.logger.Warn("failed to record run stage", "stage", stage, "error", err)
		}
	}
	return nil
}

// observeStage records the duration of the stage being left.
func (p *pipeline) observeStage() {
	if p.run.Stage == "" || p.stageStart.IsZero() {
		return
	}
	stageDuration.WithLabelValues(p.run.Stage).Observe(time.Since(p.stageStart).Seconds())
}

// fail wraps err with the current stage.
func (p *pipeline) fail(err error) error {
	p.observeStage()
	return &StageError{Stage: p.run.Stage, Err: err}
}

func (p *pipeline) execute(ctx context.Context, opts Options) error {
	if err := p.advance(model.StageBuildSide); err != nil {
		return p.fail(err)
	}
	p.logger.Info("building ruleset bundle", "config", opts.RulesetConfig)
	if err := p.o.builder.Build(ctx, build.Config{
		Stage:      model.StageBuildSide,
		Tool:       opts.WebpackBin,
		ConfigPath: opts.RulesetConfig,
		Dir:        opts.ProjectRoot,
	}); err != nil {
		return p.fail(err)
	}

	script, err := p.buildTrainingBundle(ctx, opts)
	if err != nil {
		return err
	}

	if err := p.advance(model.StageRun); err != nil {
		return p.fail(err)
	}
	result, err := p.train(ctx, script, opts)
	if err != nil {
		return p.fail(err)
	}

	if err := p.advance(model.StageReport); err != nil {
		return p.fail(err)
	}
	if err := p.report(result); err != nil {
		return p.fail(err)
	}
	p.observeStage()
	return nil
}

// buildTrainingBundle builds the training bundle into a temporary file, reads
// it, and removes the file. The file is removed on every path out.
func (p *pipeline) buildTrainingBundle(ctx context.Context, opts Options) (string, error) {
	if err := p.advance(model.StageBuildPrimary); err != nil {
		return "", p.fail(err)
	}

	artifact, err := tempfile.New(opts.TempDir, artifactPattern)
	if err != nil {
		return "", p.fail(err)
	}
	defer func() {
		if err := artifact.Release(); err != nil {
			p.logger.Warn("failed to remove training bundle", "path", artifact.Path(), "error", err)
		}
	}()

	p.logger.Info("building training bundle", "config", opts.TrainingConfig, "output", artifact.Path())
	if err := p.o.builder.Build(ctx, build.Config{
		Stage:      model.StageBuildPrimary,
		Tool:       opts.WebpackBin,
		ConfigPath: opts.TrainingConfig,
		OutputPath: artifact.Path(),
		Dir:        opts.ProjectRoot,
	}); err != nil {
		return "", p.fail(err)
	}

	if err := p.advance(model.StageReadPrimary); err != nil {
		return "", p.fail(err)
	}
	data, err := os.ReadFile(artifact.Path())
	if err != nil {
		return "", p.fail(fmt.Errorf("read training bundle: %w", err))
	}
	if err := artifact.Release(); err != nil {
		p.logger.Warn("failed to remove training bundle", "path", artifact.Path(), "error", err)
	}
	p.logger.Debug("training bundle loaded", "bytes", len(data))
	return string(data), nil
}

// train opens a browser session, runs the script in it, and closes the
// session before returning.
func (p *pipeline) train(ctx context.Context, script string, opts Options) (gateway.Result, error) {
	sess, err := p.o.launcher.Launch(ctx, session.Config{
		Binary:           opts.Binary.Path,
		Headless:         true,
		Port:             opts.MarionettePort,
		HandshakeTimeout: opts.HandshakeTimeout,
		TempDir:          opts.TempDir,
	})
	if err != nil {
		return gateway.Result{}, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("browser session cleanup failed", "error", err)
		}
	}()

	p.logger.Info("running training", "timeout", opts.ScriptTimeout.String())
	return p.o.executor.ExecuteAsync(ctx, sess, gateway.Request{
		Script:  script,
		Context: gateway.ContextPrivileged,
		Timeout: opts.ScriptTimeout,
	})
}

// report prints the result pair and stores it on the run record.
func (p *pipeline) report(res gateway.Result) error {
	p.run.Solution = encodeValue(res.Solution)
	p.run.Cost = encodeValue(res.Cost)

	_, err := fmt.Fprintf(p.o.stdout, "Best Solution: %s\nBest Cost: %s\n",
		FormatValue(res.Solution), FormatValue(res.Cost))
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// FormatValue renders a result member for display. Strings are printed as
// they are; everything else is printed as JSON.
func FormatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return encodeValue(v)
}

func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// BrowserLauncher starts real browser sessions.
type BrowserLauncher struct {
	logger *slog.Logger
}

// NewBrowserLauncher creates a launcher backed by session.Start.
func NewBrowserLauncher(logger *slog.Logger) *BrowserLauncher {
	return &BrowserLauncher{logger: logger}
}

// Launch starts a browser session.
func (l *BrowserLauncher) Launch(ctx context.Context, cfg session.Config) (Session, error) {
	s, err := session.Start(ctx, cfg, l.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
