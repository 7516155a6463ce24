package remoteapi

import (
	"net/http"
	"strconv"
)

// Pagination mirrors the upstream service's X-Page/X-Per-Page/X-Total-Pages
// family of response headers. Defaults of page=1/per_page=20/total_pages=1
// apply when the headers are absent entirely, e.g. a single-page
// non-paginated endpoint.
type Pagination struct {
	Page       int
	PerPage    int
	TotalPages int
	Total      int
	NextPage   *int
	PrevPage   *int
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePagination(resp *http.Response) Pagination {
	pg := Pagination{Page: 1, PerPage: 20, TotalPages: 1}
	if resp == nil {
		return pg
	}
	h := resp.Header
	if v, ok := headerInt(h, "X-Page"); ok {
		pg.Page = v
	}
	if v, ok := headerInt(h, "X-Per-Page"); ok {
		pg.PerPage = v
	}
	if v, ok := headerInt(h, "X-Total-Pages"); ok {
		pg.TotalPages = v
	}
	if v, ok := headerInt(h, "X-Total"); ok {
		pg.Total = v
	}
	if v, ok := headerInt(h, "X-Next-Page"); ok {
		pg.NextPage = &v
	}
	if v, ok := headerInt(h, "X-Prev-Page"); ok {
		pg.PrevPage = &v
	}
	return pg
}
