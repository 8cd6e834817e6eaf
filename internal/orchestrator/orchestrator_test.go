package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"coloringbook/internal/compose"
	"coloringbook/internal/domain"
	"coloringbook/internal/providers/image"
)

type submitResult struct {
	sub image.Submission
	err error
}

type pollResult struct {
	status image.PollStatus
	err    error
}

// stubGateway replays queued responses and records every call. When a
// queue runs dry the last entry repeats.
type stubGateway struct {
	mu          sync.Mutex
	submitQueue []submitResult
	pollQueue   []pollResult
	submits     int
	polls       int
	lastReq     image.GenerateRequest
	block       chan struct{}
}

func (s *stubGateway) Submit(ctx context.Context, req image.GenerateRequest) (image.Submission, error) {
	s.mu.Lock()
	s.submits++
	s.lastReq = req
	next := s.takeSubmit()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return image.Submission{}, ctx.Err()
		}
	}
	return next.sub, next.err
}

func (s *stubGateway) PollStatus(ctx context.Context, handle string) (image.PollStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	next := s.takePoll()
	return next.status, next.err
}

func (s *stubGateway) takeSubmit() submitResult {
	if len(s.submitQueue) == 0 {
		return submitResult{err: errors.New("stub: submit queue empty")}
	}
	next := s.submitQueue[0]
	if len(s.submitQueue) > 1 {
		s.submitQueue = s.submitQueue[1:]
	}
	return next
}

func (s *stubGateway) takePoll() pollResult {
	if len(s.pollQueue) == 0 {
		return pollResult{err: errors.New("stub: poll queue empty")}
	}
	next := s.pollQueue[0]
	if len(s.pollQueue) > 1 {
		s.pollQueue = s.pollQueue[1:]
	}
	return next
}

func (s *stubGateway) submitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func (s *stubGateway) pollCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// stubRepo records jobs in memory with injectable write failures.
type stubRepo struct {
	mu            sync.Mutex
	jobs          map[string]*domain.Job
	createErr     error
	completedErr  error
	failedErr     error
	createCalls   int
	completeCalls int
	failCalls     int
}

func newStubRepo() *stubRepo {
	return &stubRepo{jobs: make(map[string]*domain.Job)}
}

func (r *stubRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *stubRepo) MarkProcessing(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.Status = domain.JobStatusProcessing
	}
	return nil
}

func (r *stubRepo) MarkCompleted(ctx context.Context, jobID, artifactRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCalls++
	if r.completedErr != nil {
		return r.completedErr
	}
	if job, ok := r.jobs[jobID]; ok {
		job.Status = domain.JobStatusCompleted
		job.ArtifactRef = artifactRef
	}
	return nil
}

func (r *stubRepo) MarkFailed(ctx context.Context, jobID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCalls++
	if r.failedErr != nil {
		return r.failedErr
	}
	if job, ok := r.jobs[jobID]; ok {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = message
	}
	return nil
}

func (r *stubRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *stubRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *stubRepo) only(t *testing.T) *domain.Job {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) != 1 {
		t.Fatalf("job count = %d, want 1", len(r.jobs))
	}
	for _, job := range r.jobs {
		copied := *job
		return &copied
	}
	return nil
}

func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestOrchestrator(t *testing.T, gw image.Gateway, jobs domain.JobRepository) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Gateway:     gw,
		Jobs:        jobs,
		MaxAttempts: 3,
		Sleep:       instantSleep,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestRunSyncSuccess(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{sub: image.Submission{Artifact: "https://cdn/x.png"}},
	}}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	result, err := o.Run(context.Background(), RunRequest{
		RawPrompt: "a cat",
		Answers:   compose.Answers{"complexity": {"simple"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactRef != "https://cdn/x.png" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
	if gw.submitCalls() != 1 {
		t.Errorf("submits = %d, want 1", gw.submitCalls())
	}
	for _, want := range []string{"a cat", "simple"} {
		if !strings.Contains(gw.lastReq.Instruction, want) {
			t.Errorf("instruction missing %q", want)
		}
	}

	job := jobs.only(t)
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.ArtifactRef != "https://cdn/x.png" {
		t.Errorf("job artifact = %q", job.ArtifactRef)
	}
	if !strings.Contains(string(job.SettingsJSON), "a cat") {
		t.Errorf("settings snapshot missing instruction: %s", job.SettingsJSON)
	}
}

func TestRunEmptyPromptMakesNoCalls(t *testing.T) {
	gw := &stubGateway{}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	for _, raw := range []string{"", "   "} {
		if _, err := o.Run(context.Background(), RunRequest{RawPrompt: raw}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Run(%q) error = %v, want ErrValidation", raw, err)
		}
	}
	if gw.submitCalls() != 0 {
		t.Errorf("submits = %d, want 0", gw.submitCalls())
	}
	if jobs.count() != 0 {
		t.Errorf("jobs created = %d, want 0", jobs.count())
	}
}

func TestRunRetryBoundOnRateLimit(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{err: fmt.Errorf("%w: worker limit reached", domain.ErrRateLimited)},
	}}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	_, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if gw.submitCalls() != 3 {
		t.Errorf("submits = %d, want exactly maxAttempts", gw.submitCalls())
	}

	job := jobs.only(t)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "rate limited") {
		t.Errorf("error message = %q, want rate limit mention", job.ErrorMessage)
	}
}

func TestRunRecoversAfterTransientFailure(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{err: fmt.Errorf("%w: slow model", domain.ErrTimeout)},
		{sub: image.Submission{Artifact: "https://cdn/retry.png"}},
	}}
	o := newTestOrchestrator(t, gw, newStubRepo())

	result, err := o.Run(context.Background(), RunRequest{RawPrompt: "a fox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactRef != "https://cdn/retry.png" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
	if gw.submitCalls() != 2 {
		t.Errorf("submits = %d, want 2", gw.submitCalls())
	}
}

func TestRunProviderErrorIsNotRetried(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{err: fmt.Errorf("%w: NSFW content detected", domain.ErrProvider)},
	}}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	_, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("error = %v, want ErrProvider", err)
	}
	if gw.submitCalls() != 1 {
		t.Errorf("submits = %d, want 1", gw.submitCalls())
	}
	if job := jobs.only(t); job.Status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
}

func TestRunAsyncPolling(t *testing.T) {
	gw := &stubGateway{
		submitQueue: []submitResult{{sub: image.Submission{Handle: "job-1"}}},
		pollQueue: []pollResult{
			{status: image.PollStatus{}},
			{status: image.PollStatus{}},
			{status: image.PollStatus{Terminal: true, Artifact: "data:image/png;base64,AAAA"}},
		},
	}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	result, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactRef != "data:image/png;base64,AAAA" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
	if gw.pollCalls() != 3 {
		t.Errorf("polls = %d, want exactly 3", gw.pollCalls())
	}
	if job := jobs.only(t); job.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
}

func TestRunDeadlineBoundsEndlessPolling(t *testing.T) {
	gw := &stubGateway{
		submitQueue: []submitResult{{sub: image.Submission{Handle: "job-1"}}},
		pollQueue:   []pollResult{{status: image.PollStatus{}}},
	}
	jobs := newStubRepo()
	o, err := New(Options{
		Gateway:      gw,
		Jobs:         jobs,
		PollInterval: time.Millisecond,
		JobDeadline:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	start := time.Now()
	_, runErr := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	elapsed := time.Since(start)

	if !errors.Is(runErr, domain.ErrDeadlineExceeded) {
		t.Fatalf("error = %v, want ErrDeadlineExceeded", runErr)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("run took %s, deadline not enforced", elapsed)
	}
	if job := jobs.only(t); job.Status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
}

func TestRunRejectsConcurrentDuplicate(t *testing.T) {
	block := make(chan struct{})
	gw := &stubGateway{
		submitQueue: []submitResult{{sub: image.Submission{Artifact: "https://cdn/x.png"}}},
		block:       block,
	}
	jobs := newStubRepo()
	o := newTestOrchestrator(t, gw, jobs)

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat", CallerKey: "session-1"})
		firstDone <- err
	}()

	// Wait for the first run to claim its slot.
	for i := 0; i < 100 && gw.submitCalls() == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	_, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat", CallerKey: "session-1"})
	if !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("duplicate error = %v, want ErrAlreadyInProgress", err)
	}
	if jobs.count() != 1 {
		t.Errorf("jobs created = %d, want 1", jobs.count())
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Slot is free again after the first run resolves.
	gw.mu.Lock()
	gw.submitQueue = []submitResult{{sub: image.Submission{Artifact: "https://cdn/y.png"}}}
	gw.block = nil
	gw.mu.Unlock()
	if _, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat", CallerKey: "session-1"}); err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
}

func TestRunStoreFailureDoesNotMaskSuccess(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{sub: image.Submission{Artifact: "https://cdn/x.png"}},
	}}
	jobs := newStubRepo()
	jobs.completedErr = errors.New("connection refused")
	o := newTestOrchestrator(t, gw, jobs)

	result, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if err != nil {
		t.Fatalf("store failure leaked to caller: %v", err)
	}
	if result.ArtifactRef != "https://cdn/x.png" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
	if jobs.completeCalls != 1 {
		t.Errorf("complete calls = %d, want 1", jobs.completeCalls)
	}
}

func TestRunWithoutRepository(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{sub: image.Submission{Artifact: "https://cdn/x.png"}},
	}}
	o, err := New(Options{Gateway: gw, Sleep: instantSleep})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	result, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactRef != "https://cdn/x.png" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
}

func TestRunCreateFailureStillGenerates(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{sub: image.Submission{Artifact: "https://cdn/x.png"}},
	}}
	jobs := newStubRepo()
	jobs.createErr = errors.New("connection refused")
	o := newTestOrchestrator(t, gw, jobs)

	result, err := o.Run(context.Background(), RunRequest{RawPrompt: "a cat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactRef != "https://cdn/x.png" {
		t.Errorf("artifact = %q", result.ArtifactRef)
	}
	if jobs.completeCalls != 0 {
		t.Errorf("complete calls = %d, want 0 when create failed", jobs.completeCalls)
	}
}

func TestRunMandalaProfile(t *testing.T) {
	gw := &stubGateway{submitQueue: []submitResult{
		{sub: image.Submission{Artifact: "https://cdn/m.png"}},
	}}
	o := newTestOrchestrator(t, gw, newStubRepo())

	_, err := o.Run(context.Background(), RunRequest{
		Kind:      domain.PlateKindMandala,
		RawPrompt: "inner peace",
		Answers:   compose.Answers{"mood": {"Calm"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.lastReq.Model != "gokaygokay/Flux-Mandala-LoRA" {
		t.Errorf("model = %q", gw.lastReq.Model)
	}
	if gw.lastReq.Steps != 20 || gw.lastReq.Width != 768 || gw.lastReq.Height != 768 {
		t.Errorf("parameters = %+v", gw.lastReq)
	}
	if !strings.Contains(gw.lastReq.Instruction, "mandala") {
		t.Errorf("instruction missing mandala framing")
	}
}
