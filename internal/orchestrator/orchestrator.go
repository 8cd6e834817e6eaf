package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"coloringbook/internal/compose"
	"coloringbook/internal/domain"
	"coloringbook/internal/infra"
	"coloringbook/internal/providers/image"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 2 * time.Second
	defaultPollInterval = 1 * time.Second
	defaultJobDeadline  = 90 * time.Second
)

// profile carries the provider tuning constants for one plate kind. The
// values are opaque passthrough parameters as far as the orchestrator is
// concerned.
type profile struct {
	model    string
	steps    int
	guidance float64
	width    int
	height   int
}

var profiles = map[domain.PlateKind]profile{
	domain.PlateKindColoring: {model: "renderartist/coloringbookflux", steps: 30, guidance: 7.5},
	domain.PlateKindMandala:  {model: "gokaygokay/Flux-Mandala-LoRA", steps: 20, guidance: 7.5, width: 768, height: 768},
}

// SleepFunc waits for the given duration or until the context is done.
// Injected so tests never wall-clock wait.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options configures an Orchestrator. Jobs may be nil, in which case no
// job records are persisted.
type Options struct {
	Gateway      image.Gateway
	Jobs         domain.JobRepository
	Logger       *infra.Logger
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
	JobDeadline  time.Duration
	Sleep        SleepFunc
	Now          func() time.Time
}

// Orchestrator owns the end-to-end lifecycle of one generation request:
// prompt composition, submit, poll, bounded retry, overall deadline, and
// terminal persistence.
type Orchestrator struct {
	gateway      image.Gateway
	jobs         domain.JobRepository
	logger       infra.Logger
	maxAttempts  int
	retryDelay   time.Duration
	pollInterval time.Duration
	jobDeadline  time.Duration
	sleep        SleepFunc
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New wires an orchestrator from options, applying defaults for anything
// unset.
func New(opts Options) (*Orchestrator, error) {
	if opts.Gateway == nil {
		return nil, errors.New("orchestrator: gateway is required")
	}
	o := &Orchestrator{
		gateway:      opts.Gateway,
		jobs:         opts.Jobs,
		maxAttempts:  opts.MaxAttempts,
		retryDelay:   opts.RetryDelay,
		pollInterval: opts.PollInterval,
		jobDeadline:  opts.JobDeadline,
		sleep:        opts.Sleep,
		now:          opts.Now,
		inFlight:     make(map[string]struct{}),
	}
	if opts.Logger != nil {
		o.logger = *opts.Logger
	} else {
		o.logger = infra.NewNopLogger()
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = defaultMaxAttempts
	}
	if o.retryDelay <= 0 {
		o.retryDelay = defaultRetryDelay
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	if o.jobDeadline <= 0 {
		o.jobDeadline = defaultJobDeadline
	}
	if o.sleep == nil {
		o.sleep = defaultSleep
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// RunRequest is the single inbound entry point payload: the user's free
// text, their questionnaire answers, and an optional owner identity.
// CallerKey identifies the logical caller session for the duplicate
// submission guard; when empty it falls back to OwnerID, then to a shared
// anonymous key.
type RunRequest struct {
	Kind      domain.PlateKind
	RawPrompt string
	Answers   compose.Answers
	OwnerID   string
	CallerKey string
}

// RunResult reports a completed generation: the terminal job record (nil
// when persistence is disabled) and the artifact reference.
type RunResult struct {
	JobID       string
	ArtifactRef string
}

// Run drives one generation job to a terminal state and returns the
// artifact reference. Validation failures and duplicate submissions are
// rejected before any job record is created or network call made.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.PlateKindColoring
	}
	prof, ok := profiles[kind]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: unsupported plate kind %q", domain.ErrValidation, kind)
	}
	composed, err := compose.Compose(kind, req.RawPrompt, req.Answers)
	if err != nil {
		return RunResult{}, err
	}

	key := callerKey(req)
	if !o.acquire(key) {
		return RunResult{}, fmt.Errorf("%w: a generation for this caller is still running", domain.ErrAlreadyInProgress)
	}
	defer o.release(key)

	jobID := uuid.NewString()
	job := &domain.Job{
		ID:           jobID,
		OwnerID:      req.OwnerID,
		Kind:         kind,
		Status:       domain.JobStatusPending,
		SettingsJSON: settingsSnapshot(kind, composed, prof),
		CreatedAt:    o.now(),
	}
	persisted := o.createRecord(ctx, job)

	runCtx, cancel := context.WithTimeout(ctx, o.jobDeadline)
	defer cancel()

	artifact, runErr := o.execute(runCtx, ctx, jobID, persisted, image.GenerateRequest{
		Instruction:         composed.Instruction,
		NegativeInstruction: composed.NegativeInstruction,
		Model:               prof.model,
		Steps:               prof.steps,
		GuidanceScale:       prof.guidance,
		Width:               prof.width,
		Height:              prof.height,
		RequestID:           jobID,
	})
	if runErr != nil {
		o.recordFailure(jobID, persisted, runErr)
		return RunResult{JobID: jobID}, runErr
	}
	o.recordSuccess(jobID, persisted, artifact)
	return RunResult{JobID: jobID, ArtifactRef: artifact}, nil
}

// execute performs submit attempts under the retry policy, switching to the
// poll loop when the provider hands back an asynchronous job handle.
func (o *Orchestrator) execute(runCtx, parent context.Context, jobID string, persisted bool, genReq image.GenerateRequest) (string, error) {
	for attempt := 1; ; attempt++ {
		sub, err := o.gateway.Submit(runCtx, genReq)
		if err != nil {
			if deadlineErr := o.checkDeadline(runCtx, parent); deadlineErr != nil {
				return "", deadlineErr
			}
			if !domain.Retryable(err) {
				return "", err
			}
			if attempt >= o.maxAttempts {
				return "", fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			o.logger.Warn().Err(err).
				Str("job_id", jobID).
				Int("attempt", attempt).
				Msg("generation: transient submit failure, retrying")
			if sleepErr := o.sleep(runCtx, o.retryDelay); sleepErr != nil {
				return "", o.deadlineError(runCtx, parent, sleepErr)
			}
			continue
		}
		if sub.Artifact != "" {
			return sub.Artifact, nil
		}
		if sub.Handle == "" {
			return "", fmt.Errorf("%w: submit returned neither artifact nor handle", domain.ErrProvider)
		}
		o.markProcessing(runCtx, jobID, persisted)
		return o.poll(runCtx, parent, jobID, sub.Handle)
	}
}

// poll checks the remote job until it is terminal. Transient poll failures
// are treated as still-pending; the overall deadline bounds the loop.
func (o *Orchestrator) poll(runCtx, parent context.Context, jobID, handle string) (string, error) {
	for {
		status, err := o.gateway.PollStatus(runCtx, handle)
		if err != nil {
			if deadlineErr := o.checkDeadline(runCtx, parent); deadlineErr != nil {
				return "", deadlineErr
			}
			if !domain.Retryable(err) {
				return "", err
			}
			o.logger.Warn().Err(err).
				Str("job_id", jobID).
				Str("handle", handle).
				Msg("generation: transient poll failure")
		} else if status.Terminal {
			if status.Artifact == "" {
				return "", fmt.Errorf("%w: terminal status without artifact", domain.ErrProvider)
			}
			return status.Artifact, nil
		}
		if sleepErr := o.sleep(runCtx, o.pollInterval); sleepErr != nil {
			return "", o.deadlineError(runCtx, parent, sleepErr)
		}
	}
}

// checkDeadline distinguishes the overall job deadline from a caller
// cancellation. Returns nil when neither has fired.
func (o *Orchestrator) checkDeadline(runCtx, parent context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if runCtx.Err() != nil {
		return fmt.Errorf("%w: job exceeded %s", domain.ErrDeadlineExceeded, o.jobDeadline)
	}
	return nil
}

func (o *Orchestrator) deadlineError(runCtx, parent context.Context, sleepErr error) error {
	if err := o.checkDeadline(runCtx, parent); err != nil {
		return err
	}
	return sleepErr
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[key]; busy {
		return false
	}
	o.inFlight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, key)
}

func callerKey(req RunRequest) string {
	if req.CallerKey != "" {
		return req.CallerKey
	}
	if req.OwnerID != "" {
		return req.OwnerID
	}
	return "anonymous"
}

// createRecord persists the pending job when a store is configured. A
// store failure is logged and generation proceeds without persistence.
func (o *Orchestrator) createRecord(ctx context.Context, job *domain.Job) bool {
	if o.jobs == nil {
		return false
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.logger.Error().Err(fmt.Errorf("%w: %v", domain.ErrPersistence, err)).
			Str("job_id", job.ID).
			Msg("generation: create job record failed")
		return false
	}
	return true
}

func (o *Orchestrator) markProcessing(ctx context.Context, jobID string, persisted bool) {
	if !persisted {
		return
	}
	if err := o.jobs.MarkProcessing(ctx, jobID); err != nil {
		o.logger.Error().Err(fmt.Errorf("%w: %v", domain.ErrPersistence, err)).
			Str("job_id", jobID).
			Msg("generation: mark processing failed")
	}
}

// recordSuccess and recordFailure write terminal state best-effort: a store
// failure never overrides the job outcome returned to the caller. The
// writes use a fresh context so a spent job deadline cannot block them.
func (o *Orchestrator) recordSuccess(jobID string, persisted bool, artifact string) {
	if !persisted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.jobs.MarkCompleted(ctx, jobID, artifact); err != nil {
		o.logger.Error().Err(fmt.Errorf("%w: %v", domain.ErrPersistence, err)).
			Str("job_id", jobID).
			Msg("generation: mark completed failed")
	}
}

func (o *Orchestrator) recordFailure(jobID string, persisted bool, runErr error) {
	if !persisted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.jobs.MarkFailed(ctx, jobID, runErr.Error()); err != nil {
		o.logger.Error().Err(fmt.Errorf("%w: %v", domain.ErrPersistence, err)).
			Str("job_id", jobID).
			Msg("generation: mark failed failed")
	}
}

func settingsSnapshot(kind domain.PlateKind, composed compose.ComposedPrompt, prof profile) []byte {
	snapshot := map[string]any{
		"kind":                 string(kind),
		"instruction":          composed.Instruction,
		"negative_instruction": composed.NegativeInstruction,
		"model":                prof.model,
		"num_inference_steps":  prof.steps,
		"guidance_scale":       prof.guidance,
	}
	if prof.width > 0 {
		snapshot["width"] = prof.width
		snapshot["height"] = prof.height
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return encoded
}
