package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

func TestReadJobs(t *testing.T) {
	in := `[
	  {"id": "job-1", "document_id": "ndma-2026-101", "url": "https://ndma.gov.pk/a.pdf", "filetype": "pdf", "source": "NDMA"},
	  {"document_id": "pmd-2026-7", "filetype": "txt", "raw_text": "Heavy rain in Lahore"}
	]`

	jobs, err := readJobs(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, domain.FileTypePDF, jobs[0].FileType)
	assert.NotEmpty(t, jobs[1].ID)
	require.NotNil(t, jobs[1].RawText)
	assert.Equal(t, "Heavy rain in Lahore", *jobs[1].RawText)
}

func TestReadJobs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"not json", "nope", "decode jobs"},
		{"empty", "[]", "no jobs"},
		{"missing url", `[{"id":"a","document_id":"d","filetype":"pdf"}]`, "url is required"},
		{"bad filetype", `[{"id":"a","document_id":"d","url":"u","filetype":"docx"}]`, "unknown file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readJobs(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSampleJobsFile(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "data", "jobs.json"))
	require.NoError(t, err)
	defer f.Close()

	jobs, err := readJobs(f)
	require.NoError(t, err)
	assert.NotEmpty(t, jobs)
}
