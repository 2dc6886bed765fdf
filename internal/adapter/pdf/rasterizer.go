// Package pdf renders PDF pages to PNG images for the vision model.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	lpdf "github.com/ledongthuc/pdf"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// MaxPages rejects documents longer than any advisory we expect.
const MaxPages = 40

// Rasterizer renders pages at a fixed DPI.
type Rasterizer struct {
	dpi float64
}

// NewRasterizer creates a Rasterizer rendering at dpi.
func NewRasterizer(dpi int) *Rasterizer {
	return &Rasterizer{dpi: float64(dpi)}
}

// PageCount parses the document structure and returns its page count.
// Corrupt or encrypted files wrap domain.ErrDecode.
func PageCount(data []byte) (n int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: malformed pdf: %v", domain.ErrDecode, r)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return r.NumPage(), nil
}

// Rasterize returns one PNG per page in page order.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte) ([]domain.Image, error) {
	count, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", domain.ErrDecode)
	}
	if count > MaxPages {
		return nil, fmt.Errorf("%w: pdf has %d pages, limit is %d", domain.ErrDecode, count, MaxPages)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", domain.ErrDecode, err)
	}
	defer doc.Close()

	pages := make([]domain.Image, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, fmt.Errorf("%w: render page %d: %w", domain.ErrDecode, i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, domain.Image{MIMEType: "image/png", Data: buf.Bytes()})
	}
	return pages, nil
}
