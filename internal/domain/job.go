package domain

import (
	"fmt"
	"strings"
)

// FileType is the format of a source document as reported by the scraper.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypePPTX FileType = "pptx"
	FileTypeText FileType = "txt"
	FileTypeGIF  FileType = "gif"
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeJPG  FileType = "jpg"
)

// ParseFileType validates a file type. Matching ignores case and a leading dot.
func ParseFileType(s string) (FileType, error) {
	ft := FileType(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	switch ft {
	case FileTypePDF, FileTypePPTX, FileTypeText, FileTypeGIF, FileTypePNG, FileTypeJPEG, FileTypeJPG:
		return ft, nil
	}
	return "", fmt.Errorf("unknown file type %q", s)
}

// IsImage reports whether the file is a single raster image.
func (f FileType) IsImage() bool {
	switch f {
	case FileTypeGIF, FileTypePNG, FileTypeJPEG, FileTypeJPG:
		return true
	}
	return false
}

// MIMEType returns the media type sent to the vision model for image files.
func (f FileType) MIMEType() string {
	switch f {
	case FileTypeGIF:
		return "image/gif"
	case FileTypePNG:
		return "image/png"
	case FileTypeJPEG, FileTypeJPG:
		return "image/jpeg"
	case FileTypePDF:
		return "application/pdf"
	case FileTypeText:
		return "text/plain"
	}
	return "application/octet-stream"
}

// Source is the publishing agency.
type Source string

const (
	SourceNDMA Source = "NDMA"
	SourceNEOC Source = "NEOC"
	SourcePMD  Source = "PMD"
)

// Job is one queued document awaiting processing. Jobs are owned by the
// queue; the pipeline only acknowledges or fails them.
type Job struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	SourceURL  string   `json:"url"`
	FileType   FileType `json:"filetype"`
	PostedDate string   `json:"posted_date,omitempty"` // as published, usually YYYY-MM-DD
	Title      string   `json:"title,omitempty"`
	Source     Source   `json:"source,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	RawText    *string  `json:"raw_text,omitempty"`

	// Attempt is the delivery count reported by the queue, starting at 1.
	Attempt int `json:"-"`
}

// Validate checks the fields the pipeline depends on.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("job %s: document_id is required", j.ID)
	}
	if _, err := ParseFileType(string(j.FileType)); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	if j.SourceURL == "" && (j.FileType != FileTypeText || j.RawText == nil) {
		return fmt.Errorf("job %s: url is required", j.ID)
	}
	return nil
}

// JobState is a stage of the per-job pipeline.
type JobState string

const (
	StateFetching     JobState = "FETCHING"
	StateExtracting   JobState = "EXTRACTING"
	StateStructuring  JobState = "STRUCTURING"
	StateResolving    JobState = "RESOLVING"
	StatePersisting   JobState = "PERSISTING"
	StateAcknowledged JobState = "ACKNOWLEDGED"
	StateFailed       JobState = "FAILED"
)

// validTransitions lists the forward edges of the job state machine.
// FAILED is reachable from every non-terminal state and handled separately.
var validTransitions = map[JobState]JobState{
	StateFetching:    StateExtracting,
	StateExtracting:  StateStructuring,
	StateStructuring: StateResolving,
	StateResolving:   StatePersisting,
	StatePersisting:  StateAcknowledged,
}

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == StateAcknowledged || s == StateFailed
}

// Next returns the single forward successor of s.
func (s JobState) Next() (JobState, bool) {
	next, ok := validTransitions[s]
	return next, ok
}

// IsTransitionAllowed reports whether the state machine permits from → to.
func IsTransitionAllowed(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return validTransitions[from] == to
}
