package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// QueryKey identifies a cached query: a resource tag plus the canonical form of
// its parameters. QueryKey is comparable and can be used as a map key.
type QueryKey struct {
	Resource string
	Params   string
}

// NewKey builds a key for resource from params. Params may be any value that
// marshals to JSON. Map keys are sorted, struct field order is irrelevant and
// empty values are dropped, so logically identical filter sets produce equal
// keys.
func NewKey(resource string, params any) QueryKey {
	return QueryKey{Resource: resource, Params: Canonical(params)}
}

// String renders the key as resource or resource?params.
func (k QueryKey) String() string {
	if k.Params == "" {
		return k.Resource
	}
	return k.Resource + "?" + k.Params
}

// Decode unmarshals the key parameters into v.
func (k QueryKey) Decode(v any) error {
	if k.Params == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(k.Params), v); err != nil {
		return fmt.Errorf("decode params of %s: %w", k.Resource, err)
	}
	return nil
}

// Canonical returns the order-independent serialization of params.
// It returns "" for nil or empty params.
func Canonical(params any) string {
	if params == nil {
		return ""
	}

	raw, err := json.Marshal(params)
	if err != nil {
		// Values that cannot be marshalled still need a stable identity.
		return fmt.Sprintf("%#v", params)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}

	generic = prune(generic)
	if generic == nil {
		return ""
	}

	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// prune removes empty strings, nulls, false, empty arrays and empty objects.
// Zero numbers are kept: page 0 and page 1 are different queries.
func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			p := prune(val)
			if p == nil {
				delete(t, k)
				continue
			}
			t[k] = p
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		out := t[:0]
		for _, val := range t {
			if p := prune(val); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return t
	case bool:
		if !t {
			return nil
		}
		return t
	case nil:
		return nil
	default:
		return t
	}
}

// Matcher selects keys for invalidation, mutation and sweeps.
type Matcher func(QueryKey) bool

// MatchResource matches every key of the given resources.
func MatchResource(resources ...string) Matcher {
	return func(k QueryKey) bool {
		for _, r := range resources {
			if k.Resource == r {
				return true
			}
		}
		return false
	}
}

// MatchKey matches exactly one key.
func MatchKey(key QueryKey) Matcher {
	return func(k QueryKey) bool {
		return k == key
	}
}

// MatchAny matches a key selected by any of the matchers.
func MatchAny(matchers ...Matcher) Matcher {
	return func(k QueryKey) bool {
		for _, m := range matchers {
			if m != nil && m(k) {
				return true
			}
		}
		return false
	}
}

// Equal reports whether two parameter values canonicalize to the same form.
func Equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return Canonical(a) == Canonical(b)
}
