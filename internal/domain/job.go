package domain

import "time"

// PlateKind enumerates the supported coloring page styles.
type PlateKind string

const (
	PlateKindColoring PlateKind = "coloring_plate"
	PlateKindMandala  PlateKind = "mandala"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates the lifecycle of one image generation attempt, from
// submission to terminal resolution. ArtifactRef is set only when the job
// completes; ErrorMessage only when it fails. OwnerID is empty for
// anonymous usage.
type Job struct {
	ID           string
	OwnerID      string
	Kind         PlateKind
	Status       JobStatus
	SettingsJSON []byte
	ArtifactRef  string
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// CanTransition reports whether moving from the job's current status to the
// target status is a legal forward transition. Terminal states are final.
func (j *Job) CanTransition(to JobStatus) bool {
	if j.Status.Terminal() {
		return false
	}
	switch to {
	case JobStatusProcessing:
		return j.Status == JobStatusPending
	case JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
