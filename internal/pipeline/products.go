// Package pipeline turns broker messages into registry writes.
//
// Products registers label files: it filters out products that are already
// registered, extracts each label, extends the registry mapping with any new
// fields and bulk-loads the documents. Collections writes collection
// inventories to the reference index and Commands runs administrative
// requests. Every Process method returns the broker outcome for its message.
package pipeline

import (
	"context"
	"log/slog"

	"harvest/internal/broker"
	"harvest/internal/label"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/registry"
	"harvest/internal/schema"
)

// Skip reasons reported to metrics.
const (
	skipExtract = "extract"
	skipEncode  = "encode"
	skipSchema  = "schema"
)

// IDChecker returns the ids that are not registered yet.
type IDChecker interface {
	Unregistered(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Reconciler adds fields to the registry mapping.
type Reconciler interface {
	Reconcile(ctx context.Context, fields []string, sources map[string]string) ([]registry.FieldType, error)
}

// Loader bulk-writes documents.
type Loader interface {
	Load(ctx context.Context, index string, pairs []registry.Pair) (int, error)
}

// ProductsConfig configures Products.
type ProductsConfig struct {
	Checker   IDChecker
	Extractor label.Extractor
	Cache     *schema.Cache

	// Reconciler is nil when schema updates are disabled; documents are
	// then written as is.
	Reconciler Reconciler

	Loader Loader
	Index  string

	// NodeName is used for messages that do not name their node.
	NodeName string

	// DropOnSchemaFailure acknowledges a batch whose mapping update failed
	// instead of requeueing it. Its files are logged.
	DropOnSchemaFailure bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Products registers product batches.
type Products struct {
	checker    IDChecker
	extractor  label.Extractor
	cache      *schema.Cache
	reconciler Reconciler
	loader     Loader
	index      string
	nodeName   string
	drop       bool
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewProducts creates a product pipeline.
func NewProducts(cfg ProductsConfig) *Products {
	return &Products{
		checker:    cfg.Checker,
		extractor:  cfg.Extractor,
		cache:      cfg.Cache,
		reconciler: cfg.Reconciler,
		loader:     cfg.Loader,
		index:      cfg.Index,
		nodeName:   cfg.NodeName,
		drop:       cfg.DropOnSchemaFailure,
		metrics:    cfg.Metrics,
		logger:     logging.Default(cfg.Logger).With("component", "pipeline", "queue", "products"),
	}
}

// Process registers one batch.
func (p *Products) Process(ctx context.Context, msg ProductMessage) broker.Outcome {
	logger := p.logger.With("job", msg.JobID)
	if len(msg.Files) == 0 {
		return broker.Ack
	}

	files := msg.Files
	if !msg.Overwrite {
		var err error
		files, err = p.unregistered(ctx, msg)
		if err != nil {
			logger.Error("could not check registered products", "error", err)
			return broker.Requeue
		}
		if len(files) == 0 {
			logger.Info("products already registered", "files", len(msg.Files))
			return broker.Ack
		}
	}
	logger.Info("processing batch", "files", len(files), "overwrite", msg.Overwrite)

	node := msg.NodeName
	if node == "" {
		node = p.nodeName
	}
	job := label.NewJob(msg.JobID, node, msg.FileRefRules, msg.DateFields)
	w := newDocWriter(p.cache)
	for _, f := range files {
		prod, err := p.extractor.Extract(f, job)
		if err != nil {
			logger.Error("skipping file", "file", f, "error", err)
			p.metrics.FilesSkipped(skipExtract, 1)
			continue
		}
		if err := w.write(f, prod, job.ID); err != nil {
			logger.Error("skipping file", "file", f, "error", err)
			p.metrics.FilesSkipped(skipEncode, 1)
		}
	}
	if len(w.pairs) == 0 {
		logger.Warn("no products extracted", "files", len(files))
		return broker.Ack
	}

	if p.reconciler != nil && len(w.missing) > 0 {
		added, err := p.reconciler.Reconcile(ctx, w.missing, w.sources)
		if err != nil {
			if p.drop {
				logger.Error("schema update failed, dropping batch", "error", err, "files", w.files)
				p.metrics.FilesSkipped(skipSchema, len(w.files))
				return broker.Ack
			}
			logger.Error("schema update failed, requeueing batch", "error", err, "fields", len(w.missing))
			return broker.Requeue
		}
		p.metrics.FieldsAdded(len(added))
	}

	n, err := p.loader.Load(ctx, p.index, w.pairs)
	if err != nil {
		logger.Error("bulk load failed", "error", err, "documents", len(w.pairs))
		return broker.Requeue
	}
	p.metrics.ProductsLoaded(n)
	logger.Info("batch loaded", "documents", n)
	return broker.Ack
}

// unregistered returns the files whose ids are not registered.
func (p *Products) unregistered(ctx context.Context, msg ProductMessage) ([]string, error) {
	missing, err := p.checker.Unregistered(ctx, msg.IDs)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(missing))
	for i, id := range msg.IDs {
		if _, ok := missing[id]; ok && i < len(msg.Files) {
			files = append(files, msg.Files[i])
		}
	}
	return files, nil
}
