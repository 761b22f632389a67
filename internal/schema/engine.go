package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"harvest/internal/logging"
	"harvest/internal/registry"
)

// Reference fields are always keyword-typed, whatever the dictionary says.
var referencePrefixes = []string{"ref_lid_", "ref_lidvid_"}

// IsReferenceField reports whether name follows the reference field
// naming convention.
func IsReferenceField(name string) bool {
	for _, p := range referencePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Resolver makes sure a namespace's data dictionary has been loaded into
// the dictionary index.
type Resolver interface {
	EnsureLoaded(ctx context.Context, schemaURL, prefix string) error
}

// Index is the part of the registry client the engine needs.
type Index interface {
	MultiGet(ctx context.Context, index string, ids []string, source ...string) ([]registry.Doc, error)
	PutMapping(ctx context.Context, index string, fields []registry.FieldType) error
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Index    Index
	Cache    *Cache
	Resolver Resolver

	// RegistryIndex receives mapping updates; DictionaryIndex holds the
	// field records with their index data types.
	RegistryIndex   string
	DictionaryIndex string

	Logger *slog.Logger
}

// Engine resolves and adds fields missing from the live mapping.
type Engine struct {
	index           Index
	cache           *Cache
	resolver        Resolver
	registryIndex   string
	dictionaryIndex string
	logger          *slog.Logger

	// mu serializes reconciliation so concurrent queues never submit the
	// same fields twice.
	mu sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		index:           cfg.Index,
		cache:           cfg.Cache,
		resolver:        cfg.Resolver,
		registryIndex:   cfg.RegistryIndex,
		dictionaryIndex: cfg.DictionaryIndex,
		logger:          logging.Default(cfg.Logger).With("component", "schema"),
	}
}

// Reconcile adds fields to the registry mapping. sources maps dictionary
// schema URLs to their namespace prefixes; each is resolved first so the
// dictionary index has current type information. Fields already in the
// cache (for example added by a concurrent call) are skipped. It returns the
// fields that were added.
func (e *Engine) Reconcile(ctx context.Context, fields []string, sources map[string]string) ([]registry.FieldType, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	if e.resolver != nil {
		for _, u := range slices.Sorted(maps.Keys(sources)) {
			if err := e.resolver.EnsureLoaded(ctx, u, sources[u]); err != nil {
				// Degrade: known definitions or the keyword default apply.
				e.logger.Warn("dictionary not loaded, using known field types", "url", u, "prefix", sources[u], "error", err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	missing := e.cache.Missing(fields)
	if len(missing) == 0 {
		return nil, nil
	}

	types, err := e.fieldTypes(ctx, missing)
	if err != nil {
		return nil, err
	}

	if err := e.index.PutMapping(ctx, e.registryIndex, types); err != nil {
		return nil, err
	}
	e.cache.Add(missing...)
	e.logger.Info("mapping updated", "index", e.registryIndex, "fields", len(types))
	return types, nil
}

// fieldTypes looks up index types for names in the dictionary index. Names
// the dictionary does not know, and reference fields, get KeywordType.
func (e *Engine) fieldTypes(ctx context.Context, names []string) ([]registry.FieldType, error) {
	out := make([]registry.FieldType, 0, len(names))
	var lookup []string
	for _, n := range names {
		if !IsReferenceField(n) {
			lookup = append(lookup, n)
		}
	}

	found := make(map[string]string, len(lookup))
	if len(lookup) > 0 {
		docs, err := e.index.MultiGet(ctx, e.dictionaryIndex, lookup, "es_data_type")
		if err != nil {
			return nil, fmt.Errorf("look up field types: %w", err)
		}
		for _, d := range docs {
			if !d.Found {
				continue
			}
			var src struct {
				Type string `json:"es_data_type"`
			}
			if err := json.Unmarshal(d.Source, &src); err == nil && src.Type != "" {
				found[d.ID] = src.Type
			}
		}
	}

	var defaulted int
	for _, n := range names {
		t, ok := found[n]
		if !ok {
			t = KeywordType
			if !IsReferenceField(n) {
				defaulted++
			}
		}
		out = append(out, registry.FieldType{Name: n, Type: t})
	}
	if defaulted > 0 {
		e.logger.Debug("fields without dictionary type default to keyword", "count", defaulted)
	}
	return out, nil
}
