// Package extract converts fetched advisory documents into page-tagged
// markdown, using a vision model for rasterized pages and passing plain text
// through unchanged.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// pageConcurrency bounds vision calls in flight for one document.
const pageConcurrency = 4

// Fetcher downloads a document. Errors wrap domain.ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Rasterizer renders every page of a multi-page document as an image.
// Unsupported or corrupt input wraps domain.ErrDecode.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([]domain.Image, error)
}

// Extractor implements the document extraction stage.
type Extractor struct {
	fetcher    Fetcher
	rasterizer Rasterizer
	model      domain.LanguageModel
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates an Extractor. model is the vision model.
func New(fetcher Fetcher, rasterizer Rasterizer, model domain.LanguageModel, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		fetcher:    fetcher,
		rasterizer: rasterizer,
		model:      model,
		logger:     logger,
		metrics:    metrics,
	}
}

// Extract returns the markdown for job. Fragments appear in page order, each
// opened by domain.PageMarker. A page whose model call fails contributes an
// empty fragment; the call fails with domain.ErrExtraction only when no page
// produced text.
func (e *Extractor) Extract(ctx context.Context, job domain.Job) (domain.ExtractedContent, error) {
	if job.FileType == domain.FileTypeText && job.RawText != nil && strings.TrimSpace(*job.RawText) != "" {
		return direct(job, *job.RawText), nil
	}

	data, err := e.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return domain.ExtractedContent{}, err
	}

	var pages []domain.Image
	switch {
	case job.FileType == domain.FileTypeText:
		if !utf8.Valid(data) {
			return domain.ExtractedContent{}, fmt.Errorf("%w: text document is not valid UTF-8", domain.ErrDecode)
		}
		return direct(job, string(data)), nil
	case job.FileType.IsImage():
		pages = []domain.Image{{MIMEType: job.FileType.MIMEType(), Data: data}}
	case job.FileType == domain.FileTypePDF:
		pages, err = e.rasterizer.Rasterize(ctx, data)
		if err != nil {
			return domain.ExtractedContent{}, err
		}
	default:
		return domain.ExtractedContent{}, fmt.Errorf("%w: file type %q", domain.ErrDecode, job.FileType)
	}
	if len(pages) == 0 {
		return domain.ExtractedContent{}, fmt.Errorf("%w: document has no pages", domain.ErrDecode)
	}

	fragments := e.transcribe(ctx, job, pages)

	var (
		b        strings.Builder
		nonEmpty int
	)
	for i, text := range fragments {
		b.WriteString(domain.PageMarker(i + 1))
		b.WriteString(text)
		b.WriteString("\n\n")
		if text != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return domain.ExtractedContent{}, fmt.Errorf("%w: %d pages", domain.ErrExtraction, len(pages))
	}

	return domain.ExtractedContent{
		JobID:            job.ID,
		Markdown:         b.String(),
		ExtractionMethod: domain.MethodVision,
		Confidence:       float64(nonEmpty) / float64(len(pages)),
		Pages:            len(pages),
	}, nil
}

// transcribe runs one vision call per page. The result is indexed by page;
// failed pages are left empty.
func (e *Extractor) transcribe(ctx context.Context, job domain.Job, pages []domain.Image) []string {
	fragments := make([]string, len(pages))

	var g errgroup.Group
	g.SetLimit(pageConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			text, err := e.model.Call(ctx, pageMessages(page))
			text = strings.TrimSpace(text)
			switch {
			case err != nil:
				e.metrics.PagesExtracted.WithLabelValues("error").Inc()
				e.logger.Warn("page extraction failed",
					"job_id", job.ID,
					"page", i+1,
					"error", err,
				)
			case text == "":
				e.metrics.PagesExtracted.WithLabelValues("empty").Inc()
			default:
				e.metrics.PagesExtracted.WithLabelValues("success").Inc()
				fragments[i] = text
			}
			return nil
		})
	}
	_ = g.Wait()

	return fragments
}

func direct(job domain.Job, text string) domain.ExtractedContent {
	return domain.ExtractedContent{
		JobID:            job.ID,
		Markdown:         domain.PageMarker(1) + strings.TrimSpace(text) + "\n\n",
		ExtractionMethod: domain.MethodDirect,
		Confidence:       1.0,
		Pages:            1,
	}
}
