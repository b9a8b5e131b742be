package records

import (
	"context"
	"strings"

	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/export"
	"github.com/scribehub/recordcache/internal/model"
)

// ExportOne exports a single record. The record kind decides which formats
// are allowed; it is taken from the cache when possible. Invalid options fail
// before the kind is resolved, so they never cost a backend call.
func (c *Collection) ExportOne(ctx context.Context, id string, opts export.Options) (export.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return export.Job{}, apperrors.NewValidationError("id", "record id is required")
	}
	if err := model.Validate(opts); err != nil {
		return export.Job{}, err
	}

	kind, err := c.kindOf(ctx, id)
	if err != nil {
		return export.Job{}, err
	}
	return c.exports.Export(ctx, export.Request{RecordID: id, Kind: kind, Options: opts})
}

// ExportMany exports the records one after another. A record whose kind
// cannot be resolved is counted as failed and the batch goes on.
func (c *Collection) ExportMany(ctx context.Context, ids []string, opts export.Options) (export.BulkResult, error) {
	if len(ids) == 0 {
		return export.BulkResult{}, apperrors.NewValidationError("ids", "at least one record id is required")
	}
	if err := model.Validate(opts); err != nil {
		return export.BulkResult{}, err
	}

	reqs := make([]export.Request, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		kind, err := c.kindOf(ctx, id)
		if err != nil {
			c.logger.Warn("Could not resolve record kind for export", "record_id", id, "error", err)
		}
		reqs = append(reqs, export.Request{RecordID: id, Kind: kind, Options: opts})
	}
	return c.exports.ExportBulk(ctx, reqs), nil
}

// Job returns the export job of a record while it is displayed.
func (c *Collection) Job(id string) (export.Job, bool) {
	return c.exports.Job(id)
}

// Jobs returns every displayed export job.
func (c *Collection) Jobs() []export.Job {
	return c.exports.Jobs()
}

// kindOf looks the record up in the cached detail, lists and search results
// and falls back to warming its detail.
func (c *Collection) kindOf(ctx context.Context, id string) (model.Kind, error) {
	if id == "" {
		return "", apperrors.NewValidationError("id", "record id is required")
	}
	if kind, ok := c.cachedKind(id); ok {
		return kind, nil
	}

	t := c.DetailTarget(id)
	if err := c.queries.Prefetch(ctx, t.Key, t.Fetch, t.Options); err != nil {
		return "", err
	}
	if kind, ok := c.cachedKind(id); ok {
		return kind, nil
	}
	return "", apperrors.NewNotFoundError("record", id)
}

func (c *Collection) cachedKind(id string) (model.Kind, bool) {
	if e, ok := c.store.Get(DetailKey(id)); ok {
		if d, ok := e.Data.(*model.RecordDetail); ok && d.ID == id {
			return d.Kind, true
		}
	}

	for _, e := range c.store.Entries(cache.MatchResource(ResourceList, ResourceSearch)) {
		var records []model.Record
		switch v := e.Data.(type) {
		case *model.ListResult:
			records = v.Data
		case *model.SearchResult:
			records = v.Results
		}
		for _, r := range records {
			if r.ID == id {
				return r.Kind, true
			}
		}
	}
	return "", false
}
