package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"harvest/internal/logging"
)

// Pair is one bulk entry: the action line and the document line.
type Pair struct {
	Action []byte
	Body   []byte
}

// IndexPair builds an index (upsert) pair for doc with the given id.
func IndexPair(id string, doc any) (Pair, error) {
	action, err := json.Marshal(map[string]any{"index": map[string]string{"_id": id}})
	if err != nil {
		return Pair{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Pair{}, fmt.Errorf("encode document %s: %w", id, err)
	}
	return Pair{Action: action, Body: body}, nil
}

// PairsFromLines groups alternating action/body lines into pairs. An odd
// number of lines is rejected with ErrOddPairs.
func PairsFromLines(lines [][]byte) ([]Pair, error) {
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddPairs, len(lines))
	}
	pairs := make([]Pair, 0, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		pairs = append(pairs, Pair{Action: lines[i], Body: lines[i+1]})
	}
	return pairs, nil
}

// BulkError reports documents the index refused in an otherwise successful
// bulk request. The whole batch counts as failed.
type BulkError struct {
	// Failed holds the ids of the refused documents, in request order. An
	// item without an id is listed by its position ("#3").
	Failed []string

	// Reason is the first reported error reason.
	Reason string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk load: %d document(s) failed: %s", len(e.Failed), e.Reason)
}

// Loader writes documents with the bulk API.
//
// The pipelines build batches with IndexPair, so an action line always
// travels with its body. LoadLines accepts raw alternating lines from
// callers that already hold encoded requests and checks the pairing itself.
type Loader struct {
	client *Client
	logger *slog.Logger
}

// NewLoader creates a Loader on top of client.
func NewLoader(client *Client, logger *slog.Logger) *Loader {
	return &Loader{
		client: client,
		logger: logging.Default(logger).With("component", "bulk-loader"),
	}
}

// Load writes pairs to index in one request and returns the number of
// documents written. An empty batch is a no-op. Any per-document error
// fails the whole batch with *BulkError; writes are upserts by id, so
// resubmitting the batch is safe.
func (l *Loader) Load(ctx context.Context, index string, pairs []Pair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, p := range pairs {
		buf.Write(p.Action)
		buf.WriteByte('\n')
		buf.Write(p.Body)
		buf.WriteByte('\n')
	}

	start := time.Now()
	path := "/" + url.PathEscape(index) + "/_bulk?refresh=wait_for"
	data, err := l.client.send(ctx, http.MethodPost, path, buf.Bytes(), contentNDJSON, l.client.gzip)
	if err != nil {
		return 0, fmt.Errorf("bulk load into %s: %w", index, err)
	}
	if err := bulkResult(data); err != nil {
		return 0, err
	}

	l.logger.Debug("bulk load complete", "index", index, "docs", len(pairs), "duration", time.Since(start))
	return len(pairs), nil
}

// LoadLines is Load for pre-encoded alternating action/body lines. An odd
// line count fails before any request is made.
func (l *Loader) LoadLines(ctx context.Context, index string, lines [][]byte) (int, error) {
	pairs, err := PairsFromLines(lines)
	if err != nil {
		return 0, err
	}
	return l.Load(ctx, index, pairs)
}

type bulkItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// bulkResult inspects a 2xx bulk response for per-document errors.
func bulkResult(data []byte) error {
	var resp bulkResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("bulk load: decode response: %w", err)
	}
	if !resp.Errors {
		return nil
	}

	var be BulkError
	for i, entry := range resp.Items {
		// One key per item: index, create, update or delete.
		for _, item := range entry {
			if len(item.Error) == 0 || string(item.Error) == "null" {
				continue
			}
			id := item.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			be.Failed = append(be.Failed, id)
			if be.Reason == "" {
				be.Reason = itemReason(item.Error)
			}
		}
	}
	if len(be.Failed) == 0 {
		be.Reason = "index reported errors without item details"
	}
	return &be
}

func itemReason(raw json.RawMessage) string {
	var e struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		switch {
		case e.Reason != "":
			return e.Reason
		case e.Type != "":
			return e.Type
		}
	}
	return string(raw)
}
