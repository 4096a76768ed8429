package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Collects query parameter problems so all of them are reported at once
type queryParser struct {
	r      *http.Request
	errors map[string]string
}

func newQueryParser(r *http.Request) *queryParser {
	return &queryParser{r: r, errors: map[string]string{}}
}

func (q *queryParser) int(name string, def int, lo int, hi int) int {
	raw := q.r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		q.errors[name] = "Value must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi)
		return def
	}
	return v
}

func (q *queryParser) time(name string) *time.Time {
	raw := q.r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		q.errors[name] = "Value must be an RFC 3339 timestamp"
		return nil
	}
	return &v
}

func (q *queryParser) oneOf(name string, allowed ...string) []string {
	values := q.r.URL.Query()[name]
	for _, v := range values {
		found := false
		for _, a := range allowed {
			found = found || v == a
		}
		if !found {
			q.errors[name] = "Unknown value " + strconv.Quote(v)
			return nil
		}
	}
	return values
}

// Write validation error response if any parameter was invalid
func (q *queryParser) failed(w http.ResponseWriter) bool {
	if len(q.errors) == 0 {
		return false
	}
	render.FieldErrors(w, q.errors)
	return true
}

// Parse `{id}` path segment, write error response on failure
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.FieldErrors(w, map[string]string{"id": "Value must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
