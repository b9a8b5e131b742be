package model

// DefaultPageSize is used when a list request does not set one.
const DefaultPageSize = 20

// ListFilters selects one page of records.
type ListFilters struct {
	Kind      Kind   `json:"kind,omitempty" validate:"omitempty,oneof=meeting transcription"`
	Status    Status `json:"status,omitempty" validate:"omitempty,oneof=processing completed failed"`
	Search    string `json:"search,omitempty" validate:"max=200"`
	Language  string `json:"language,omitempty" validate:"omitempty,len=2"`
	Page      int    `json:"page" validate:"min=1"`
	PageSize  int    `json:"pageSize" validate:"min=1,max=100"`
	SortBy    string `json:"sortBy,omitempty" validate:"omitempty,oneof=createdAt updatedAt title duration"`
	SortOrder string `json:"sortOrder,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Normalize fills in the default page and page size.
func (f ListFilters) Normalize() ListFilters {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	return f
}

// WithPage returns a copy of f selecting page.
func (f ListFilters) WithPage(page int) ListFilters {
	f.Page = page
	return f
}

// Matches reports whether r would be listed under f, ignoring search and
// paging. It decides which cached lists a new record belongs to.
func (f ListFilters) Matches(r Record) bool {
	if f.Kind != "" && f.Kind != r.Kind {
		return false
	}
	if f.Status != "" && f.Status != r.Status {
		return false
	}
	if f.Language != "" && f.Language != r.Language {
		return false
	}
	return true
}
