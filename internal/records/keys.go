package records

import (
	"strings"

	"github.com/scribehub/recordcache/internal/cache"
	"github.com/scribehub/recordcache/internal/model"
)

// Resource tags of the cached queries.
const (
	ResourceList   = "list"
	ResourceDetail = "detail"
	ResourceSearch = "search"
	ResourceStats  = "stats"
)

// ListKey identifies one page of a filtered list.
func ListKey(f model.ListFilters) cache.QueryKey {
	return cache.NewKey(ResourceList, f.Normalize())
}

// DetailKey identifies the detail of one record.
func DetailKey(id string) cache.QueryKey {
	return cache.NewKey(ResourceDetail, map[string]string{"id": id})
}

// SearchKey identifies the results of a query. Surrounding whitespace is not
// significant.
func SearchKey(q string) cache.QueryKey {
	return cache.NewKey(ResourceSearch, map[string]string{"q": strings.TrimSpace(q)})
}

// StatsKey identifies the aggregate statistics.
func StatsKey() cache.QueryKey {
	return cache.NewKey(ResourceStats, nil)
}

func listFilters(key cache.QueryKey) (model.ListFilters, bool) {
	var f model.ListFilters
	if key.Resource != ResourceList || key.Decode(&f) != nil {
		return f, false
	}
	return f, true
}
