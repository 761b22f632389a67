package refs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/registry"
)

// Defaults.
const (
	DefaultPageSize   = 500
	DefaultFlushPages = 10
)

// ErrInvalidCollection is returned for a collection id that is not a LIDVID.
var ErrInvalidCollection = errors.New("refs: collection id is not a lidvid")

// Page is one reference document.
type Page struct {
	Number int
	Type   RefType
	Refs   []string
}

// Loader writes bulk pairs to an index.
type Loader interface {
	Load(ctx context.Context, index string, pairs []registry.Pair) (int, error)
}

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	Loader Loader

	// Index is the reference index.
	Index string

	// PageSize is the page capacity; FlushPages the number of pages per
	// bulk request.
	PageSize   int
	FlushPages int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Batcher pages collection references into the reference index.
type Batcher struct {
	loader     Loader
	index      string
	pageSize   int
	flushPages int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewBatcher creates a Batcher.
func NewBatcher(cfg BatcherConfig) *Batcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.FlushPages <= 0 {
		cfg.FlushPages = DefaultFlushPages
	}
	return &Batcher{
		loader:     cfg.Loader,
		index:      cfg.Index,
		pageSize:   cfg.PageSize,
		flushPages: cfg.FlushPages,
		metrics:    cfg.Metrics,
		logger:     logging.Default(cfg.Logger).With("component", "refs"),
	}
}

// Write pages all references of the collection, primary first, then
// secondary. Each type is numbered from page 0. It returns the number of
// pages written.
func (b *Batcher) Write(ctx context.Context, collectionLIDVID, jobID string, r Reader) (int, error) {
	lid, vid, ok := strings.Cut(collectionLIDVID, "::")
	if !ok || lid == "" || vid == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCollection, collectionLIDVID)
	}
	c := collection{lidvid: collectionLIDVID, lid: lid, vid: vid, jobID: jobID}

	total := 0
	for _, t := range RefTypes {
		n, err := b.writeType(ctx, c, t, r)
		total += n
		if err != nil {
			return total, fmt.Errorf("write %s references of %s: %w", t, collectionLIDVID, err)
		}
	}
	b.logger.Info("collection references written", "collection", collectionLIDVID, "pages", total)
	return total, nil
}

type collection struct {
	lidvid, lid, vid, jobID string
}

func (b *Batcher) writeType(ctx context.Context, c collection, t RefType, r Reader) (int, error) {
	var (
		pending []registry.Pair
		page    = Page{Type: t, Refs: make([]string, 0, b.pageSize)}
		written int
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if _, err := b.loader.Load(ctx, b.index, pending); err != nil {
			return err
		}
		written += len(pending)
		b.metrics.ReferencePages(len(pending))
		pending = nil
		return nil
	}
	closePage := func() error {
		p, err := registry.IndexPair(c.pageID(page), c.document(page))
		if err != nil {
			return err
		}
		pending = append(pending, p)
		page = Page{Number: page.Number + 1, Type: t, Refs: make([]string, 0, b.pageSize)}
		if len(pending) >= b.flushPages {
			return flush()
		}
		return nil
	}

	for ref, err := range r.References(t) {
		if err != nil {
			return written, err
		}
		page.Refs = append(page.Refs, ref)
		if len(page.Refs) == b.pageSize {
			if err := closePage(); err != nil {
				return written, err
			}
		}
	}
	if len(page.Refs) > 0 {
		if err := closePage(); err != nil {
			return written, err
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// pageID is "<collection lidvid>::<P|S><page>".
func (c collection) pageID(p Page) string {
	return fmt.Sprintf("%s::%s%d", c.lidvid, p.Type.ID(), p.Number)
}

func (c collection) document(p Page) map[string]any {
	lidvids := make([]string, 0, len(p.Refs))
	lids := make([]string, 0, len(p.Refs))
	seen := make(map[string]struct{}, len(p.Refs))
	for _, ref := range p.Refs {
		lid := ref
		if l, _, ok := strings.Cut(ref, "::"); ok {
			lidvids = append(lidvids, ref)
			lid = l
		}
		if _, dup := seen[lid]; !dup {
			seen[lid] = struct{}{}
			lids = append(lids, lid)
		}
	}
	return map[string]any{
		"batch_id":          p.Number,
		"batch_size":        len(p.Refs),
		"reference_type":    p.Type.String(),
		"collection_lidvid": c.lidvid,
		"collection_lid":    c.lid,
		"collection_vid":    c.vid,
		"product_lidvid":    lidvids,
		"product_lid":       lids,
		"_package_id":       c.jobID,
	}
}
