package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NilPassesThrough(t *testing.T) {
	assert.NoError(t, New(Persistence, "upsert", nil))
}

func TestKindOf(t *testing.T) {
	base := errors.New("status 401")
	wrapped := fmt.Errorf("collect: %w", New(AuthorizationExpired, "search", base))

	assert.Equal(t, AuthorizationExpired, KindOf(wrapped))
	assert.True(t, Is(wrapped, AuthorizationExpired))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, UpstreamTimeout, KindOf(fmt.Errorf("page 2: %w", context.DeadlineExceeded)))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"authorization_expired: search page 1: upstream returned 401", AuthorizationExpired},
		{"malformed_response: decode: unexpected EOF", MalformedResponse},
		{"Post \"https://x\": context deadline exceeded", UpstreamTimeout},
		{"unexpected end of JSON input", MalformedResponse},
		{"ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)", Persistence},
		{"term requested too soon", RateLimitedResubmission},
		{"something odd", Unknown},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, Categorize(tc.msg))
		})
	}
}

func TestCounts(t *testing.T) {
	got := Counts([]string{
		New(UpstreamTimeout, "page 1", errors.New("x")).Error(),
		New(UpstreamTimeout, "page 2", errors.New("y")).Error(),
		"invalid character '<' looking for beginning of value",
		"",
	})
	assert.Equal(t, map[Kind]int{UpstreamTimeout: 2, MalformedResponse: 1}, got)
}
