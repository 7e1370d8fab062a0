package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyString(t *testing.T) {
	assert.Equal(t, `watchlist("u1",603)`, NewKey("watchlist", "u1", 603).String())
	assert.Equal(t, `movies.popular(1)`, NewKey("movies.popular", 1).String())
	assert.Equal(t, `genres()`, NewKey("genres").String())
	assert.NotEqual(t, NewKey("reviews.movie", "603").String(), NewKey("reviews.movie", 603).String())
	assert.Equal(t, NewKey("watchlist", "u1").With(603).String(), NewKey("watchlist", "u1", 603).String())
}

func TestKeyHasPrefix(t *testing.T) {
	user := NewKey("watchlist", "u1")
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"itself", NewKey("watchlist", "u1"), true},
		{"child", NewKey("watchlist", "u1", 603), true},
		{"other user with shared prefix text", NewKey("watchlist", "u10"), false},
		{"other resource", NewKey("reviews.user", "u1"), false},
		{"shorter key", NewKey("watchlist"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.HasPrefix(user))
		})
	}
	assert.True(t, NewKey("watchlist", "u1", 603).HasPrefix(NewKey("watchlist")))
}

func TestKeyWithDoesNotAlias(t *testing.T) {
	base := NewKey("reviews.mine", "u1")
	a := base.With(1)
	b := base.With(2)
	assert.Equal(t, `reviews.mine("u1",1)`, a.String())
	assert.Equal(t, `reviews.mine("u1",2)`, b.String())
	assert.Equal(t, 1, base.Len())
}

func TestKeyRejectsUnsupportedParams(t *testing.T) {
	assert.Panics(t, func() { NewKey("x", 1.5) })
}
