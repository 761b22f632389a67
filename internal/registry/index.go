package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Hit is one search result.
type Hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Search runs a query against index and returns its hits.
func (c *Client) Search(ctx context.Context, index string, query any) ([]Hit, error) {
	var resp searchResponse
	if err := c.getJSON(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", query, &resp); err != nil {
		return nil, err
	}
	return resp.Hits.Hits, nil
}

// Doc is one multi-get result.
type Doc struct {
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// MultiGet fetches documents by id. Results follow the order of ids;
// missing documents have Found == false. source limits the returned fields.
func (c *Client) MultiGet(ctx context.Context, index string, ids []string, source ...string) ([]Doc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	path := "/" + url.PathEscape(index) + "/_mget"
	if len(source) > 0 {
		path += "?_source=" + url.QueryEscape(strings.Join(source, ","))
	}
	var resp struct {
		Docs []Doc `json:"docs"`
	}
	if err := c.getJSON(ctx, http.MethodPost, path, map[string]any{"ids": ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

// GetDocument fetches a single document's source. A missing document
// returns ErrNotFound.
func (c *Client) GetDocument(ctx context.Context, index, id string, source ...string) (json.RawMessage, error) {
	path := docPath(index, "_doc", id)
	if len(source) > 0 {
		path += "?_source=" + url.QueryEscape(strings.Join(source, ","))
	}
	var resp Doc
	if err := c.getJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	return resp.Source, nil
}

// UpdateDocument applies a partial document update.
func (c *Client) UpdateDocument(ctx context.Context, index, id string, fields map[string]any) error {
	return c.getJSON(ctx, http.MethodPost, docPath(index, "_update", id), map[string]any{"doc": fields}, nil)
}

// Mapping returns the top-level field names of index, sorted.
func (c *Client) Mapping(ctx context.Context, index string) ([]string, error) {
	var resp map[string]struct {
		Mappings struct {
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"mappings"`
	}
	if err := c.getJSON(ctx, http.MethodGet, "/"+url.PathEscape(index)+"/_mappings", nil, &resp); err != nil {
		return nil, err
	}
	// index may be an alias resolving to several concrete indexes.
	seen := make(map[string]struct{})
	for _, m := range resp {
		for name := range m.Mappings.Properties {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// FieldType is one field of a mapping update.
type FieldType struct {
	Name string
	Type string
}

// PutMapping adds fields to the mapping of index. The update is additive:
// the index rejects redefinitions of existing fields.
func (c *Client) PutMapping(ctx context.Context, index string, fields []FieldType) error {
	if len(fields) == 0 {
		return nil
	}
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f.Name] = map[string]string{"type": f.Type}
	}
	body := map[string]any{"properties": props}
	if err := c.getJSON(ctx, http.MethodPut, "/"+url.PathEscape(index)+"/_mapping", body, nil); err != nil {
		return fmt.Errorf("update mapping of %s: %w", index, err)
	}
	return nil
}
