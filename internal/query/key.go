package query

import (
	"net/url"
	"strconv"
)

// Key identifies a logical read: a resource kind plus its parameters in
// canonical form. Keys are comparable, so equal queries share one entry.
type Key struct {
	Kind   string
	Params string
}

// NewKey builds a key from params. url.Values.Encode sorts by name, which
// makes the encoding canonical.
func NewKey(kind string, params url.Values) Key {
	return Key{Kind: kind, Params: params.Encode()}
}

// PageKey is the key of one page of a list, optionally scoped by extra
// name/value pairs (e.g. "file_id", id).
func PageKey(kind string, page, limit int, scope ...string) Key {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	for i := 0; i+1 < len(scope); i += 2 {
		v.Set(scope[i], scope[i+1])
	}
	return NewKey(kind, v)
}

// Param returns the named parameter of k.
func (k Key) Param(name string) string {
	v, err := url.ParseQuery(k.Params)
	if err != nil {
		return ""
	}
	return v.Get(name)
}

// IntParam returns the named parameter as an int, or 0.
func (k Key) IntParam(name string) int {
	n, err := strconv.Atoi(k.Param(name))
	if err != nil {
		return 0
	}
	return n
}

func (k Key) String() string {
	if k.Params == "" {
		return k.Kind
	}
	return k.Kind + "?" + k.Params
}

// Predicate selects keys for invalidation and edits.
type Predicate func(Key) bool

// Exact matches a single key.
func Exact(k Key) Predicate {
	return func(o Key) bool { return o == k }
}

// KindIs matches keys of any of the given kinds.
func KindIs(kinds ...string) Predicate {
	return func(k Key) bool {
		for _, kind := range kinds {
			if k.Kind == kind {
				return true
			}
		}
		return false
	}
}

// HasParam matches keys whose parameter name equals value.
func HasParam(name, value string) Predicate {
	return func(k Key) bool { return k.Param(name) == value }
}

// And matches keys accepted by every predicate.
func And(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if !p(k) {
				return false
			}
		}
		return true
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(k Key) bool { return !p(k) }
}

// All matches every key.
func All(Key) bool { return true }
