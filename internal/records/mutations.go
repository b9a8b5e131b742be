package records

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/model"
	"github.com/scribehub/recordcache/internal/mutation"
)

// tempIDPrefix marks records created optimistically that the backend has not
// confirmed yet.
const tempIDPrefix = "tmp-"

// derived are the entries recomputed by the backend after any write.
var derived = cache.MatchResource(ResourceStats, ResourceSearch)

// Create adds a record. Until the backend confirms it, the record is shown
// with a temporary id at the top of every cached first page it belongs to.
func (c *Collection) Create(ctx context.Context, in model.NewRecord) (model.Record, error) {
	if err := model.Validate(in); err != nil {
		return model.Record{}, err
	}

	now := c.now()
	pending := model.Record{
		ID:        tempIDPrefix + uuid.NewString(),
		Kind:      in.Kind,
		Title:     in.Title,
		Status:    model.StatusProcessing,
		Language:  in.Language,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := c.mutations.Mutate(ctx, mutation.Mutation{
		Name:     "create",
		Affected: cache.MatchResource(ResourceList),
		Optimistic: func(key cache.QueryKey, data any) (any, bool) {
			f, ok := listFilters(key)
			if !ok || f.Page != 1 || f.Search != "" || !f.Matches(pending) {
				return nil, false
			}
			page, ok := data.(*model.ListResult)
			if !ok {
				return nil, false
			}
			next := page.CloneData().(*model.ListResult)
			next.Data = slices.Insert(next.Data, 0, pending)
			if len(next.Data) > f.PageSize {
				next.Data = next.Data[:f.PageSize]
			}
			next.Pagination.Total++
			return next, true
		},
		Call: func(ctx context.Context) (any, error) {
			return c.backend.Create(ctx, in)
		},
		Commit: func(_ cache.QueryKey, data, result any) (any, bool) {
			return replaceRecord(data, pending.ID, result.(model.Record))
		},
		Invalidate: derived,
	})
	if err != nil {
		return model.Record{}, err
	}
	return res.(model.Record), nil
}

// Update patches a record. Every cached list, detail and search result
// holding the record shows the patch until the backend answers; the
// confirmed record then replaces it, or the previous state is restored.
func (c *Collection) Update(ctx context.Context, id string, patch model.RecordPatch) (model.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Record{}, apperrors.NewValidationError("id", "record id is required")
	}
	if patch.IsEmpty() {
		return model.Record{}, apperrors.NewValidationError("patch", "nothing to update")
	}
	if err := model.Validate(patch); err != nil {
		return model.Record{}, err
	}

	res, err := c.mutations.Mutate(ctx, mutation.Mutation{
		Name:     "update",
		Affected: cache.MatchAny(cache.MatchResource(ResourceList, ResourceSearch), cache.MatchKey(DetailKey(id))),
		Optimistic: func(_ cache.QueryKey, data any) (any, bool) {
			return patchRecord(data, id, patch.Apply)
		},
		Call: func(ctx context.Context) (any, error) {
			return c.backend.Update(ctx, id, patch)
		},
		Commit: func(_ cache.QueryKey, data, result any) (any, bool) {
			return replaceRecord(data, id, result.(model.Record))
		},
		Invalidate: derived,
	})
	if err != nil {
		return model.Record{}, err
	}
	return res.(model.Record), nil
}

// Remove deletes a record. It disappears from cached lists and search
// results immediately and comes back if the backend refuses. On success the
// detail entry is dropped.
func (c *Collection) Remove(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.NewValidationError("id", "record id is required")
	}

	_, err := c.mutations.Mutate(ctx, mutation.Mutation{
		Name:     "remove",
		Affected: cache.MatchResource(ResourceList, ResourceSearch),
		Optimistic: func(_ cache.QueryKey, data any) (any, bool) {
			return dropRecord(data, id)
		},
		Call: func(ctx context.Context) (any, error) {
			return nil, c.backend.Delete(ctx, id)
		},
		Invalidate: derived,
	})
	if err != nil {
		return err
	}

	detail := DetailKey(id)
	removed := c.store.RemoveIf(func(e cache.Entry) bool {
		return e.Key == detail && e.ObserverCount == 0
	})
	if len(removed) == 0 {
		// Observers of the detail learn about the deletion from the refetch.
		c.queries.Invalidate(cache.MatchKey(detail))
	}
	return nil
}

// patchRecord returns a copy of data with fn applied to the record id, or
// false when data does not hold it.
func patchRecord(data any, id string, fn func(model.Record) model.Record) (any, bool) {
	switch v := data.(type) {
	case *model.ListResult:
		i := v.IndexOf(id)
		if i < 0 {
			return nil, false
		}
		next := v.CloneData().(*model.ListResult)
		next.Data[i] = fn(next.Data[i])
		return next, true
	case *model.SearchResult:
		i := slices.IndexFunc(v.Results, func(r model.Record) bool { return r.ID == id })
		if i < 0 {
			return nil, false
		}
		next := v.CloneData().(*model.SearchResult)
		next.Results[i] = fn(next.Results[i])
		return next, true
	case *model.RecordDetail:
		if v.ID != id {
			return nil, false
		}
		next := v.CloneData().(*model.RecordDetail)
		next.Record = fn(next.Record)
		return next, true
	}
	return nil, false
}

// replaceRecord swaps the record id for the confirmed one. The enrichment of
// a detail is kept.
func replaceRecord(data any, id string, confirmed model.Record) (any, bool) {
	return patchRecord(data, id, func(model.Record) model.Record {
		return confirmed.Clone()
	})
}

func dropRecord(data any, id string) (any, bool) {
	switch v := data.(type) {
	case *model.ListResult:
		i := v.IndexOf(id)
		if i < 0 {
			return nil, false
		}
		next := v.CloneData().(*model.ListResult)
		next.Data = slices.Delete(next.Data, i, i+1)
		next.Pagination.Total = max(next.Pagination.Total-1, 0)
		return next, true
	case *model.SearchResult:
		i := slices.IndexFunc(v.Results, func(r model.Record) bool { return r.ID == id })
		if i < 0 {
			return nil, false
		}
		next := v.CloneData().(*model.SearchResult)
		next.Results = slices.Delete(next.Results, i, i+1)
		next.TotalResults = max(next.TotalResults-1, 0)
		return next, true
	}
	return nil, false
}
