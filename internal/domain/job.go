package domain

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an intake job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusCompleted   JobStatus = "completed"
	StatusProcessing  JobStatus = "processing"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// ValidTransition reports whether moving a job from one status to another
// is a legal state-machine edge. "completed" marks the download stage done;
// extraction and inventory drive the job through "processing" and back.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusFailed || to == StatusCancelled
	case StatusDownloading:
		// downloading -> pending happens on crash recovery and requeue.
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled || to == StatusPending
	case StatusCompleted:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusFailed:
		// failed -> pending is the resume path; downloaded bytes are kept.
		return to == StatusPending
	case StatusCancelled:
		return false
	default:
		return false
	}
}

// Job is the persistent record tracking one download/extraction/inventory
// pipeline instance.
type Job struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Filename        string         `json:"filename"`
	TotalSize       int64          `json:"total_size"`
	DownloadedSize  int64          `json:"downloaded_size"`
	Status          JobStatus      `json:"status"`
	ChunksCompleted int            `json:"chunks_completed"`
	TotalChunks     int            `json:"total_chunks"`
	FileHash        string         `json:"file_hash,omitempty"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewJob creates a pending job with a fresh random ID.
func NewJob(url, filename string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		URL:       url,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Progress returns the download completion percentage, clamped to [0, 100].
// Unknown total size reports 0.
func (j *Job) Progress() float64 {
	if j.TotalSize <= 0 {
		return 0
	}
	p := float64(j.DownloadedSize) / float64(j.TotalSize) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Terminal reports whether the job has reached a resting state. A completed
// job may still be driven through processing stages by explicit calls.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MergeMetadata copies the given keys into the job's metadata map,
// allocating it if needed. Existing keys are overwritten.
func (j *Job) MergeMetadata(m map[string]any) {
	if len(m) == 0 {
		return
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]any, len(m))
	}
	maps.Copy(j.Metadata, m)
}

// Clone returns a deep copy so callers never share internal pointers.
func (j *Job) Clone() *Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = maps.Clone(j.Metadata)
	}
	return &c
}

// EncodeJob serializes a job to the record format stored in the job store.
func EncodeJob(j *Job) ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a stored job record.
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
