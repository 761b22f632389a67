package dictionary

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"harvest/internal/callgroup"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/registry"
)

// Fetcher downloads a document.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Loader writes bulk pairs to an index.
type Loader interface {
	Load(ctx context.Context, index string, pairs []registry.Pair) (int, error)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	State    *State
	Searcher Searcher
	Loader   Loader
	Fetcher  Fetcher
	Types    TypeLookup

	// Index is the dictionary index.
	Index string

	// Download enables fetching dictionaries. When disabled, only the
	// definitions already in the dictionary index are used.
	Download bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Resolver loads the dictionary behind a schema URL into the dictionary
// index when it is newer than what the namespace already has.
type Resolver struct {
	state    *State
	searcher Searcher
	loader   Loader
	fetcher  Fetcher
	types    TypeLookup
	index    string
	download bool
	metrics  *metrics.Metrics
	logger   *slog.Logger

	group callgroup.Group[string]
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		state:    cfg.State,
		searcher: cfg.Searcher,
		loader:   cfg.Loader,
		fetcher:  cfg.Fetcher,
		types:    cfg.Types,
		index:    cfg.Index,
		download: cfg.Download,
		metrics:  cfg.Metrics,
		logger:   logging.Default(cfg.Logger).With("component", "dictionary"),
	}
}

// JSONLocation returns the dictionary JSON URL for a schema (.xsd) URL and
// the JSON file name.
func JSONLocation(schemaURL string) (jsonURL, file string, err error) {
	u, err := url.Parse(schemaURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid schema url %q: %w", schemaURL, err)
	}
	ext := path.Ext(u.Path)
	if !strings.EqualFold(ext, ".xsd") {
		return "", "", fmt.Errorf("schema url %q: expected .xsd, got %q", schemaURL, ext)
	}
	u.Path = strings.TrimSuffix(u.Path, ext) + ".JSON"
	return u.String(), path.Base(u.Path), nil
}

// EnsureLoaded makes sure the dictionary for schemaURL has been considered
// for namespace prefix. A file already recorded for the namespace is never
// fetched again. Field records are written only when the dictionary's date
// is strictly after the namespace's last loaded date; the file itself is
// recorded either way. Concurrent calls for the same URL share one load.
func (r *Resolver) EnsureLoaded(ctx context.Context, schemaURL, prefix string) error {
	return r.group.Do(ctx, schemaURL, func() error {
		return r.load(ctx, schemaURL, prefix)
	})
}

func (r *Resolver) load(ctx context.Context, schemaURL, prefix string) error {
	jsonURL, file, err := JSONLocation(schemaURL)
	if err != nil {
		return err
	}

	info, ok := r.state.Get(prefix)
	if !ok {
		if err := r.state.Load(ctx, r.searcher, r.index, prefix); err != nil {
			return err
		}
		info, _ = r.state.Get(prefix)
	}
	if info.Has(file) {
		return nil
	}
	if !r.download {
		r.logger.Debug("dictionary download disabled", "namespace", prefix, "file", file)
		return nil
	}

	r.logger.Info("loading data dictionary", "namespace", prefix, "url", jsonURL)
	data, err := r.fetcher.Download(ctx, jsonURL)
	if err != nil {
		return err
	}
	dict, err := Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", jsonURL, err)
	}
	if dict.ZoneGuessed {
		r.logger.Warn("dictionary date has an unknown time zone, reading it as UTC",
			"namespace", prefix, "file", file, "date", dict.Date)
	}

	var records []FieldRecord
	if dict.Date.After(info.LastDate) {
		records = dict.Records(prefix, r.types)
	} else {
		r.logger.Info("dictionary is not newer than loaded definitions",
			"namespace", prefix, "file", file, "date", dict.Date, "last", info.LastDate)
	}
	records = append(records, infoRecord(prefix, file, dict.IMVersion, dict.LDDVersion, dict.Date))

	pairs := make([]registry.Pair, 0, len(records))
	for _, rec := range records {
		p, err := registry.IndexPair(rec.ID(), rec.Document())
		if err != nil {
			return err
		}
		pairs = append(pairs, p)
	}
	if _, err := r.loader.Load(ctx, r.index, pairs); err != nil {
		return fmt.Errorf("write dictionary %s: %w", file, err)
	}

	r.state.Record(prefix, file, dict.Date)
	r.metrics.DictionaryLoaded(prefix)
	r.logger.Info("data dictionary loaded", "namespace", prefix, "file", file, "fields", len(records)-1)
	return nil
}
