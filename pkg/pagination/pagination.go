// Package pagination reads list paging parameters from requests.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	MaxLimit = 500
	// TotalHeader carries the unpaged result count.
	TotalHeader = "X-Total-Count"
)

// Params holds paging parameters. Limit 0 means "everything".
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads "limit" and "offset". A missing or invalid limit
// selects no limit; an explicit limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 0 {
		limit = 0
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Bounded reports whether a limit applies.
func (p Params) Bounded() bool {
	return p.Limit > 0
}

// HasNext reports whether results remain after this page.
func (p Params) HasNext(total int) bool {
	return p.Bounded() && p.Offset+p.Limit < total
}

// NextOffset returns the offset of the following page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// SetHeaders writes the total count and, when another page exists, a
// Link header pointing at it.
func (p Params) SetHeaders(c echo.Context, total int) {
	h := c.Response().Header()
	h.Set(TotalHeader, strconv.Itoa(total))
	if p.HasNext(total) {
		next := fmt.Sprintf("%s?limit=%d&offset=%d", c.Request().URL.Path, p.Limit, p.NextOffset())
		h.Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
	}
}
