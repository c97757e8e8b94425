package models

import "time"

// BuildRequest describes one build run. An empty TechFilter means every technology.
type BuildRequest struct {
	TechFilter string `json:"tech_filter,omitempty"`
	Clear      bool   `json:"clear,omitempty"`
}

// Item error kinds recorded in a JobReport.
const (
	ErrKindFileParse = "file_parse"
	ErrKindEmbedding = "embedding"
	ErrKindKeyword   = "keyword"
	ErrKindVector    = "vector"
	ErrKindCache     = "cache"
)

// ItemError is a recoverable per-file or per-chunk failure.
type ItemError struct {
	SourcePath string `json:"source_path"`
	ChunkID    string `json:"chunk_id,omitempty"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// JobReport is the result of a build run. It is owned by the run that creates it.
type JobReport struct {
	JobID        string      `json:"job_id"`
	TechFilter   string      `json:"tech_filter,omitempty"`
	Clear        bool        `json:"clear"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	FilesScanned int         `json:"files_scanned"`
	FilesFailed  int         `json:"files_failed"`
	Created      int         `json:"created"`
	Updated      int         `json:"updated"`
	Skipped      int         `json:"skipped"`
	Failed       int         `json:"failed"`
	Deleted      int         `json:"deleted"`
	CreatedIDs   []string    `json:"created_ids"`
	UpdatedIDs   []string    `json:"updated_ids"`
	Errors       []ItemError `json:"errors"`
}

// Duration is the wall time of the run.
func (r *JobReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clean reports whether the run finished without item failures.
func (r *JobReport) Clean() bool {
	return r.Failed == 0 && r.FilesFailed == 0
}
