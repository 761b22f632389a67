package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"harvest/internal/registry"
)

// Info is what is known about one namespace's loaded dictionaries.
type Info struct {
	Files    []string
	LastDate time.Time
}

// Has reports whether file has already been loaded.
func (i Info) Has(file string) bool {
	return slices.Contains(i.Files, file)
}

// State tracks loaded dictionaries per namespace. Dates only move forward
// and recorded files are never forgotten. Safe for concurrent use.
type State struct {
	mu sync.Mutex
	ns map[string]*Info
}

// NewState creates an empty State.
func NewState() *State {
	return &State{ns: make(map[string]*Info)}
}

// Get returns a copy of the namespace's info.
func (s *State) Get(namespace string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.ns[namespace]
	if !ok {
		return Info{}, false
	}
	return Info{Files: slices.Clone(info.Files), LastDate: info.LastDate}, true
}

// Record notes that file was loaded for namespace with the given date. The
// stored date becomes the later of the current and new dates.
func (s *State) Record(namespace, file string, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.entry(namespace)
	if file != "" && !slices.Contains(info.Files, file) {
		info.Files = append(info.Files, file)
		slices.Sort(info.Files)
	}
	if date.After(info.LastDate) {
		info.LastDate = date
	}
}

// ensure creates an empty entry for namespace if none exists.
func (s *State) ensure(namespace string) {
	s.mu.Lock()
	s.entry(namespace)
	s.mu.Unlock()
}

func (s *State) entry(namespace string) *Info {
	info, ok := s.ns[namespace]
	if !ok {
		info = &Info{LastDate: DefaultDate}
		s.ns[namespace] = info
	}
	return info
}

// Searcher runs a query against an index.
type Searcher interface {
	Search(ctx context.Context, index string, query any) ([]registry.Hit, error)
}

// infoQuery selects the LDD_Info records of a namespace.
func infoQuery(namespace string) map[string]any {
	match := func(field, value string) map[string]any {
		return map[string]any{"match": map[string]any{field: value}}
	}
	return map[string]any{
		"size":    1000,
		"_source": []string{"date", "attr_name"},
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					match("class_ns", InfoClassNamespace),
					match("class_name", InfoClassName),
					match("attr_ns", namespace),
				},
			},
		},
	}
}

// Load merges the namespace's LDD_Info records from index into the state.
// A namespace with no records gets an empty entry dated DefaultDate.
func (s *State) Load(ctx context.Context, searcher Searcher, index, namespace string) error {
	hits, err := searcher.Search(ctx, index, infoQuery(namespace))
	if err != nil {
		return fmt.Errorf("load dictionary info for %s: %w", namespace, err)
	}
	s.ensure(namespace)
	for _, h := range hits {
		var src struct {
			Date     string `json:"date"`
			AttrName string `json:"attr_name"`
		}
		if err := json.Unmarshal(h.Source, &src); err != nil {
			continue
		}
		date, err := time.Parse(time.RFC3339, src.Date)
		if err != nil {
			date = time.Time{}
		}
		s.Record(namespace, src.AttrName, date)
	}
	return nil
}
