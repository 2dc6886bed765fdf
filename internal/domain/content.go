package domain

import (
	"context"
	"fmt"
)

// ExtractionMethod records how a document's text was obtained.
type ExtractionMethod string

const (
	MethodVision ExtractionMethod = "vision"
	MethodDirect ExtractionMethod = "direct"
)

// ExtractedContent is the normalized markdown for one job.
type ExtractedContent struct {
	JobID            string           `json:"job_id"`
	Markdown         string           `json:"markdown"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Confidence       float64          `json:"confidence"` // share of pages with non-empty output
	Pages            int              `json:"pages"`
}

// PageMarker is the tag that opens each page fragment.
func PageMarker(page int) string {
	return fmt.Sprintf("<!-- Page %d -->\n", page)
}

// Role is the author of a model message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attached to a model message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Message is one turn of a language model conversation.
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// LanguageModel is a configured model endpoint. Implementations apply their
// own fixed defaults (temperature, token limits).
type LanguageModel interface {
	Call(ctx context.Context, messages []Message) (string, error)
}
