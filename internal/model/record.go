// Package model holds the meeting and transcription records served by the
// backend and cached by the coordinators.
package model

import (
	"maps"
	"slices"
	"time"
)

// Kind distinguishes meetings from standalone transcriptions.
type Kind string

const (
	KindMeeting       Kind = "meeting"
	KindTranscription Kind = "transcription"
)

// Status is the processing state of a record on the backend.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DerivedStats are enrichment results computed by the backend.
type DerivedStats struct {
	DurationSeconds int      `json:"durationSeconds"`
	WordCount       int      `json:"wordCount"`
	SpeakerCount    int      `json:"speakerCount"`
	SentimentScore  float64  `json:"sentimentScore"`
	Topics          []string `json:"topics,omitempty"`
}

// Record is a meeting or transcription item.
type Record struct {
	ID           string       `json:"id"`
	Kind         Kind         `json:"kind"`
	Title        string       `json:"title"`
	Status       Status       `json:"status"`
	Language     string       `json:"language,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	DerivedStats DerivedStats `json:"derivedStats"`
}

// RecordDetail is the full view of a record, including enrichment output.
type RecordDetail struct {
	Record
	Summary     string            `json:"summary,omitempty"`
	Transcript  string            `json:"transcript,omitempty"`
	Translation map[string]string `json:"translation,omitempty"`
}

// RecordPatch is a partial update. Nil fields are left untouched.
type RecordPatch struct {
	Title    *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Status   *Status `json:"status,omitempty" validate:"omitempty,oneof=processing completed failed"`
	Language *string `json:"language,omitempty" validate:"omitempty,len=2"`
}

// IsEmpty reports whether the patch changes nothing.
func (p RecordPatch) IsEmpty() bool {
	return p.Title == nil && p.Status == nil && p.Language == nil
}

// Apply returns a copy of r with the patch applied.
func (p RecordPatch) Apply(r Record) Record {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Language != nil {
		r.Language = *p.Language
	}
	return r
}

// NewRecord is the payload for creating a record.
type NewRecord struct {
	Kind     Kind   `json:"kind" validate:"required,oneof=meeting transcription"`
	Title    string `json:"title" validate:"required"`
	Language string `json:"language,omitempty" validate:"omitempty,len=2"`
	SourceID string `json:"sourceId" validate:"required"`
}

// Pagination describes the page a list result belongs to.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// HasNext reports whether a following page exists.
func (p Pagination) HasNext() bool {
	return p.Page < p.TotalPages
}

// Stats are aggregate counters over the whole collection.
type Stats struct {
	Total         int     `json:"total"`
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	TotalDuration int     `json:"totalDuration"`
	AvgSentiment  float64 `json:"avgSentiment"`
}

// ListResult is the response of a list query.
type ListResult struct {
	Data       []Record   `json:"data"`
	Pagination Pagination `json:"pagination"`
	Stats      Stats      `json:"stats"`
}

// HasProcessing reports whether any record on the page is still processing.
func (l *ListResult) HasProcessing() bool {
	return slices.ContainsFunc(l.Data, func(r Record) bool {
		return r.Status == StatusProcessing
	})
}

// IndexOf returns the position of the record with the given id, or -1.
func (l *ListResult) IndexOf(id string) int {
	return slices.IndexFunc(l.Data, func(r Record) bool {
		return r.ID == id
	})
}

// SearchResult is the response of a full text search.
type SearchResult struct {
	Results      []Record `json:"results"`
	TotalResults int      `json:"totalResults"`
	SearchTime   float64  `json:"searchTime"`
}

// Clone returns a copy of r that shares no slices with it.
func (r Record) Clone() Record {
	r.DerivedStats.Topics = slices.Clone(r.DerivedStats.Topics)
	return r
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// CloneData returns a deep copy so cached values can be snapshotted and
// rewritten without sharing slices with the original.
func (l *ListResult) CloneData() any {
	if l == nil {
		return (*ListResult)(nil)
	}
	c := *l
	c.Data = cloneRecords(l.Data)
	return &c
}

// CloneData returns a deep copy of the detail.
func (d *RecordDetail) CloneData() any {
	if d == nil {
		return (*RecordDetail)(nil)
	}
	c := *d
	c.Record = d.Record.Clone()
	c.Translation = maps.Clone(d.Translation)
	return &c
}

// CloneData returns a deep copy of the search result.
func (s *SearchResult) CloneData() any {
	if s == nil {
		return (*SearchResult)(nil)
	}
	c := *s
	c.Results = cloneRecords(s.Results)
	return &c
}

// CloneData returns a copy of the stats.
func (s *Stats) CloneData() any {
	if s == nil {
		return (*Stats)(nil)
	}
	c := *s
	return &c
}
