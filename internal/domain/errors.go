package domain

import (
	"errors"
	"fmt"
)

// Stage failures. Adapters wrap these with %w so the orchestrator can
// classify any error with errors.Is.
var (
	ErrFetch           = errors.New("fetch failed")
	ErrDecode          = errors.New("unsupported or corrupt document")
	ErrExtraction      = errors.New("no page produced usable text")
	ErrModel           = errors.New("language model call failed")
	ErrSchema          = errors.New("model output failed schema validation")
	ErrResolverBackend = errors.New("place reference backend unavailable")
	ErrPersistence     = errors.New("persistence failed")
)

// StageError records the state a job was in when it failed.
type StageError struct {
	Stage JobState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrorKind names the taxonomy member of err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrModel):
		return "model"
	case errors.Is(err, ErrResolverBackend):
		return "resolver_backend"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "unknown"
}
