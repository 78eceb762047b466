package entity

import (
	"time"

	"github.com/joseph-ayodele/docscan/constants"
)

// Job represents a document analysis job for data transfer between layers.
type Job struct {
	ID          string              `json:"job_id"`
	Status      constants.JobStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at"`
	Summary     Summary             `json:"summary"`
	Pages       []Page              `json:"pages"`
	Error       *string             `json:"error"`
	Document    Document            `json:"document"`
	TotalPages  int                 `json:"total_pages"`
}

// Summary is the document-level OR of per-class presence over all pages.
type Summary struct {
	Signature bool `json:"signature"`
	Stamp     bool `json:"stamp"`
	QR        bool `json:"qr"`
}

// Document describes the uploaded file a job was created from.
type Document struct {
	Filename  string                 `json:"filename"`
	Kind      constants.DocumentKind `json:"kind"`
	SizeBytes int64                  `json:"size_bytes"`
	SHA256    string                 `json:"sha256"`
	// Path is host-local and never serialized.
	Path string `json:"-"`
}

// Clone returns a deep copy of j that shares no mutable state with it.
func (j Job) Clone() Job {
	out := j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	out.Pages = make([]Page, len(j.Pages))
	for i, p := range j.Pages {
		out.Pages[i] = p.Clone()
	}
	return out
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status.IsTerminal()
}
