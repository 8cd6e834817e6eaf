package image

import "context"

// GenerateRequest describes a normalized request passed to any provider.
// The tuning parameters are opaque passthrough values chosen per plate kind.
type GenerateRequest struct {
	Instruction         string
	NegativeInstruction string
	Model               string
	Steps               int
	GuidanceScale       float64
	Width               int
	Height              int
	RequestID           string
}

// Submission is the outcome of one submit call. Providers with a
// synchronous protocol fill Artifact directly; asynchronous providers
// return a Handle that must be polled until terminal.
type Submission struct {
	Artifact string
	Handle   string
}

// PollStatus reports the remote state of an asynchronous job. Artifact is
// set only when Terminal is true; a failed remote job surfaces as an error
// from PollStatus instead.
type PollStatus struct {
	Terminal bool
	Artifact string
}

// Gateway is the contract implemented by all inference providers. A
// successful terminal state yields exactly one artifact reference, either a
// remote URL or an inline data URI; callers must not assume which.
type Gateway interface {
	Submit(ctx context.Context, req GenerateRequest) (Submission, error)
	PollStatus(ctx context.Context, handle string) (PollStatus, error)
}
