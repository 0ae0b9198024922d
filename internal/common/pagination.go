package common

import (
	"net/http"
	"strconv"
)

// Page is a requested window into a listing.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Meta builds the pagination block for a response holding total rows.
func (p Page) Meta(total int) Pagination {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return Pagination{Page: p.Number, Limit: p.Size, TotalItems: total, TotalPages: pages}
}

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// ParsePage reads ?page= and ?limit=. Missing or non-positive values fall back
// to page 1 and def; limit is capped at max when max is positive.
func ParsePage(r *http.Request, def, max int) Page {
	q := r.URL.Query()
	p := Page{Number: 1, Size: def}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Size = n
	}
	if max > 0 && p.Size > max {
		p.Size = max
	}
	return p
}
