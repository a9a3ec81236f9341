// Package jobmodel defines the durable Job row and the in-memory types
// that travel alongside it, as specified in section 3 of the design
// specification.
package jobmodel

import "time"

// Status is one of the six states a Job can be in. Transitions are
// monotone except for the crash-recovery loop PROCESSING -> ERROR,
// followed by an external re-enqueue back through QUEUED.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether s is one of the absorbing terminal states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the durable row described in section 3. Fields are grouped by
// concern (identity, progress, timing, throughput, control, outcome)
// rather than for memory alignment, since a Job is never hot-path
// allocated in bulk — at most MAX_CONCURRENT_JOBS are live at once.
type Job struct {
	ID string `json:"id"`

	Status Status `json:"status"`

	// File identity.
	FileName     string `json:"fileName"`
	SourceItemID string `json:"sourceItemId"`
	TotalBytes   int64  `json:"totalBytes"`

	// Progress counters, monotonically nondecreasing while PROCESSING.
	ProcessedLines int64 `json:"processedLines"`
	ProcessedBytes int64 `json:"processedBytes"`
	ErrorLines     int64 `json:"errorLines"`
	TotalLines     int64 `json:"totalLines"`
	NumFragments   int64 `json:"numFragments"`
	FragmentsDone  int64 `json:"fragmentsDone"`

	// Timing.
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	HeartbeatAt     *time.Time `json:"heartbeatAt,omitempty"`
	TotalDurationMs int64      `json:"totalDurationMs"`

	// Throughput, set at completion only.
	LinesPerSecond float64 `json:"linesPerSecond"`
	BytesPerSecond float64 `json:"bytesPerSecond"`

	// Control.
	CancelRequested bool   `json:"cancelRequested"`
	ClaimedBy       string `json:"claimedBy,omitempty"`

	// Outcome.
	ErrorMessage      string `json:"errorMessage,omitempty"`
	ValidationPassed  bool   `json:"validationPassed"`
}

// FirstErrorSample is the first validation error observed during a job,
// per section 3. It is in-memory only: individual per-line errors are
// never persisted, by design (see spec.md Non-goals).
type FirstErrorSample struct {
	LineNumber   int64  `json:"lineNumber"`
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
	FieldName    string `json:"fieldName,omitempty"`
	FieldValue   string `json:"fieldValue,omitempty"`
	RawLine      string `json:"rawLine"`
}

// MaxRawLineLen bounds FirstErrorSample.RawLine, per section 4.2.
const MaxRawLineLen = 500

// TruncateRawLine trims line to at most MaxRawLineLen bytes, the way the
// spec requires a captured first-error sample to bound memory.
func TruncateRawLine(line string) string {
	if len(line) <= MaxRawLineLen {
		return line
	}
	return line[:MaxRawLineLen]
}

// Patch is a partial update to a subset of Job fields, used by
// registry.Gateway.Update / ConditionalUpdate. Only non-nil fields are
// applied; this mirrors a SQL "SET col = ... WHERE ..." or a DynamoDB
// UpdateExpression built from whichever fields are present.
type Patch struct {
	Status           *Status
	ProcessedLines   *int64
	ProcessedBytes   *int64
	ErrorLines       *int64
	TotalLines       *int64
	NumFragments     *int64
	FragmentsDone    *int64
	StartedAt        *time.Time
	FinishedAt       *time.Time
	HeartbeatAt      *time.Time
	TotalDurationMs  *int64
	LinesPerSecond   *float64
	BytesPerSecond   *float64
	CancelRequested  *bool
	ClaimedBy        *string
	ErrorMessage     *string
	ValidationPassed *bool
}

// Apply mutates j in place according to the non-nil fields of p.
func (p Patch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ProcessedLines != nil {
		j.ProcessedLines = *p.ProcessedLines
	}
	if p.ProcessedBytes != nil {
		j.ProcessedBytes = *p.ProcessedBytes
	}
	if p.ErrorLines != nil {
		j.ErrorLines = *p.ErrorLines
	}
	if p.TotalLines != nil {
		j.TotalLines = *p.TotalLines
	}
	if p.NumFragments != nil {
		j.NumFragments = *p.NumFragments
	}
	if p.FragmentsDone != nil {
		j.FragmentsDone = *p.FragmentsDone
	}
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		j.FinishedAt = p.FinishedAt
	}
	if p.HeartbeatAt != nil {
		j.HeartbeatAt = p.HeartbeatAt
	}
	if p.TotalDurationMs != nil {
		j.TotalDurationMs = *p.TotalDurationMs
	}
	if p.LinesPerSecond != nil {
		j.LinesPerSecond = *p.LinesPerSecond
	}
	if p.BytesPerSecond != nil {
		j.BytesPerSecond = *p.BytesPerSecond
	}
	if p.CancelRequested != nil {
		j.CancelRequested = *p.CancelRequested
	}
	if p.ClaimedBy != nil {
		j.ClaimedBy = *p.ClaimedBy
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	if p.ValidationPassed != nil {
		j.ValidationPassed = *p.ValidationPassed
	}
}
