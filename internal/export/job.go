package export

import (
	"fmt"
	"slices"
	"time"

	"github.com/scribehub/recordcache/internal/model"
)

// Status is the state of an export job.
type Status string

const (
	StatusPreparing   Status = "preparing"
	StatusGenerating  Status = "generating"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Percentage reported when a job enters each state.
var stepProgress = map[Status]int{
	StatusPreparing:   10,
	StatusGenerating:  40,
	StatusDownloading: 80,
	StatusCompleted:   100,
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Format is an export file format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

var supportedFormats = map[model.Kind][]Format{
	model.KindMeeting:       {FormatPDF, FormatDOCX, FormatTXT, FormatJSON},
	model.KindTranscription: {FormatTXT, FormatSRT, FormatVTT, FormatJSON, FormatDOCX},
}

// SupportedFormats returns the formats a record kind can be exported to.
func SupportedFormats(kind model.Kind) []Format {
	return slices.Clone(supportedFormats[kind])
}

// Supports reports whether kind can be exported to format.
func Supports(kind model.Kind, format Format) bool {
	return slices.Contains(supportedFormats[kind], format)
}

// Options select what goes into the exported document.
type Options struct {
	Format            Format `json:"format" validate:"required,oneof=pdf docx txt json srt vtt"`
	IncludeSummary    bool   `json:"includeSummary"`
	IncludeTranscript bool   `json:"includeTranscript"`
	IncludeSentiment  bool   `json:"includeSentiment"`
	IncludeTopics     bool   `json:"includeTopics"`
	Language          string `json:"language,omitempty" validate:"omitempty,len=2"`
}

// Request exports one record.
type Request struct {
	RecordID string     `json:"recordId" validate:"required"`
	Kind     model.Kind `json:"kind" validate:"required,oneof=meeting transcription"`
	Options  Options    `json:"options"`
}

// Job is the observable state of one export.
type Job struct {
	ID        string     `json:"id"`
	RecordID  string     `json:"recordId"`
	Kind      model.Kind `json:"kind"`
	Format    Format     `json:"format"`
	BatchID   string     `json:"batchId,omitempty"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Filename  string     `json:"filename,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Filename derives the saved file name from the record and the export date.
func Filename(kind model.Kind, recordID string, format Format, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s.%s", kind, recordID, at.Format("2006-01-02"), format)
}

// BulkResult summarizes a bulk export.
type BulkResult struct {
	BatchID   string            `json:"batchId"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
	Status    Status            `json:"status"`
	Errors    map[string]string `json:"errors,omitempty"`
}
