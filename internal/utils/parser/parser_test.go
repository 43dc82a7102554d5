package parser

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleQuery struct {
	Term    string `form:"term"`
	Limit   int    `form:"limit" default:"50"`
	Fresh   bool   `form:"fresh"`
	Offset  *uint  `form:"offset"`
	Ignored string
}

// bind runs ParseQuery inside a real fiber request and reports the result.
func bind(t *testing.T, target string) (sampleQuery, error) {
	t.Helper()
	var (
		q      sampleQuery
		bindEr error
	)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		bindEr = ParseQuery(c, &q)
		return c.SendStatus(fiber.StatusNoContent)
	})
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	return q, bindEr
}

func TestParseQuery_DefaultsAndValues(t *testing.T) {
	q, err := bind(t, "/?term=oak&fresh=true&offset=20")
	require.NoError(t, err)
	assert.Equal(t, "oak", q.Term)
	assert.Equal(t, 50, q.Limit)
	assert.True(t, q.Fresh)
	require.NotNil(t, q.Offset)
	assert.EqualValues(t, 20, *q.Offset)

	q, err = bind(t, "/?limit=5")
	require.NoError(t, err)
	assert.Equal(t, 5, q.Limit)
	assert.Nil(t, q.Offset)
}

func TestParseQuery_InvalidValue(t *testing.T) {
	_, err := bind(t, "/?limit=many")
	require.Error(t, err)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "limit", qe.Param)
	assert.Equal(t, "many", qe.Value)
}

func TestParseQuery_RequiresStructPointer(t *testing.T) {
	app := fiber.New()
	var got error
	app.Get("/", func(c *fiber.Ctx) error {
		var n int
		got = ParseQuery(c, &n)
		return nil
	})
	_, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Error(t, got)
}
