package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/theory/jsonpath"
)

var (
	// ErrNotFound reports that a document or index does not exist. The index
	// answers 404 or 405 for a missing single document; both mean "absent".
	ErrNotFound = errors.New("registry: not found")

	// ErrOddPairs is returned when bulk lines cannot be split into
	// action/body pairs.
	ErrOddPairs = errors.New("registry: bulk lines are not an even number")

	// ErrUndetermined is returned by the idempotency check when the index
	// could not be queried within the retry budget. It is distinct from an
	// empty result.
	ErrUndetermined = errors.New("registry: could not determine registered ids")
)

// ResponseError is a non-2xx answer from the index.
type ResponseError struct {
	Status int
	Reason string
	Body   []byte
}

func (e *ResponseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("index returned %d", e.Status)
	}
	return fmt.Sprintf("index returned %d: %s", e.Status, e.Reason)
}

// Is makes a 404 or 405 response match ErrNotFound.
func (e *ResponseError) Is(target error) bool {
	return target == ErrNotFound &&
		(e.Status == http.StatusNotFound || e.Status == http.StatusMethodNotAllowed)
}

func newResponseError(status int, body []byte) *ResponseError {
	return &ResponseError{Status: status, Reason: Reason(body), Body: body}
}

// Reason paths, most specific first.
var reasonPaths = []*jsonpath.Path{
	jsonpath.MustParse("$.error.root_cause[0].reason"),
	jsonpath.MustParse("$.error.reason"),
	jsonpath.MustParse("$.error"),
}

// Reason extracts a human-readable reason from an index error body. The
// body may carry several lines (for example a proxy banner followed by the
// JSON error); only the last non-empty line is parsed. Falls back to the
// raw body when no JSON reason can be found.
func Reason(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	last := trimmed
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		last = bytes.TrimSpace(trimmed[i+1:])
	}

	var doc any
	if err := json.Unmarshal(last, &doc); err == nil {
		for _, p := range reasonPaths {
			for _, node := range p.Select(doc) {
				if s, ok := node.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return strings.TrimSpace(string(trimmed))
}
