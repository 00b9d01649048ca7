// Package jobs runs statement imports asynchronously and schedules recurring maintenance.
package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by a JobStore for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeImportStatement represents a statement import job.
	JobTypeImportStatement JobType = "import_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is used when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// ImportStatementJob imports one statement file stored in GCS.
type ImportStatementJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// OwnerID is the user the drafts are created for.
	OwnerID string `json:"owner_id"`

	// GCSURI is the GCS URI of the statement file.
	GCSURI string `json:"gcs_uri"`

	// FileName overrides the name derived from the URI.
	FileName string `json:"file_name,omitempty"`

	// UploadGroupID is set once the import created its drafts.
	UploadGroupID string `json:"upload_group_id,omitempty"`

	// DraftIDs lists the drafts created by the import.
	DraftIDs []string `json:"draft_ids,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// IsFinished reports whether s is a terminal status.
func (s JobStatus) IsFinished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ImportStatementJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ImportStatementJob) GetType() JobType {
	return JobTypeImportStatement
}

// GetStatus implements the Job interface.
func (j *ImportStatementJob) GetStatus() JobStatus {
	return j.Status
}

// Clone returns a copy that shares no slices with j.
func (j *ImportStatementJob) Clone() *ImportStatementJob {
	cp := *j
	cp.DraftIDs = append([]string(nil), j.DraftIDs...)
	return &cp
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishImportStatement publishes a statement import job.
	PublishImportStatement(ctx context.Context, job *ImportStatementJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportStatementJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ImportStatementJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportStatementJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	OwnerID string
	Status  JobStatus
	Limit   int
	Offset  int
}
