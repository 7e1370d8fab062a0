package querycache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a cached query: a resource tag plus ordered, typed params.
// Two keys are equal when their String forms are equal; strings are quoted so
// "603" and 603 never collide.
type Key struct {
	Resource string
	params   []string
}

// NewKey builds a key. Params may be strings, integers or bools.
func NewKey(resource string, params ...any) Key {
	k := Key{Resource: resource}
	return k.With(params...)
}

// With returns a copy of k with params appended.
func (k Key) With(params ...any) Key {
	out := Key{Resource: k.Resource, params: make([]string, 0, len(k.params)+len(params))}
	out.params = append(out.params, k.params...)
	for _, p := range params {
		out.params = append(out.params, encodeParam(p))
	}
	return out
}

// Len returns the number of params.
func (k Key) Len() int { return len(k.params) }

// String renders the key deterministically, e.g. watchlist("u1",603).
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Resource)
	b.WriteByte('(')
	b.WriteString(strings.Join(k.params, ","))
	b.WriteByte(')')
	return b.String()
}

// HasPrefix reports whether prefix names k or an ancestor of k: same resource
// and matching leading params.
func (k Key) HasPrefix(prefix Key) bool {
	if k.Resource != prefix.Resource || len(prefix.params) > len(k.params) {
		return false
	}
	for i, p := range prefix.params {
		if k.params[i] != p {
			return false
		}
	}
	return true
}

func encodeParam(p any) string {
	switch v := p.(type) {
	case string:
		return strconv.Quote(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strconv.Quote(v.String())
	default:
		panic(fmt.Sprintf("querycache: unsupported key param %T", p))
	}
}
