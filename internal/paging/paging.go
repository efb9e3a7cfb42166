package paging

import (
	"net/url"
	"strconv"

	"switchboard.dev/internal/apperr"
)

const (
	DefaultRows = 10
	MaxRows     = 100
)

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Rows   int
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Rows < 1 {
		p.Rows = DefaultRows
	}
	if p.Rows > MaxRows {
		p.Rows = MaxRows
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Rows
}

// FromQuery reads page and rows from query parameters.
func FromQuery(q url.Values) (Page, error) {
	var p Page
	for name, dst := range map[string]*int{"page": &p.Number, "rows": &p.Rows} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, apperr.BadRequest(apperr.CodeInvalidField, name)
		}
		*dst = n
	}
	return p.Normalize(), nil
}
