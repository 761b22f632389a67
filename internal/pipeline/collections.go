package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"harvest/internal/broker"
	"harvest/internal/logging"
	"harvest/internal/refs"
)

// RefWriter writes collection references.
type RefWriter interface {
	Write(ctx context.Context, collectionLIDVID, jobID string, r refs.Reader) (int, error)
}

// CollectionsConfig configures Collections.
type CollectionsConfig struct {
	Writer RefWriter

	// Delimiter of inventory files; zero means comma.
	Delimiter rune

	Logger *slog.Logger
}

// Collections writes collection inventories.
type Collections struct {
	writer    RefWriter
	delimiter rune
	logger    *slog.Logger
}

// NewCollections creates a collection pipeline.
func NewCollections(cfg CollectionsConfig) *Collections {
	return &Collections{
		writer:    cfg.Writer,
		delimiter: cfg.Delimiter,
		logger:    logging.Default(cfg.Logger).With("component", "pipeline", "queue", "collections"),
	}
}

// Process writes the references of one collection. Requests that cannot
// succeed on redelivery are acknowledged with a logged error.
func (c *Collections) Process(ctx context.Context, msg CollectionMessage) broker.Outcome {
	logger := c.logger.With("job", msg.JobID, "collection", msg.CollectionID)
	if msg.CollectionID == "" || msg.InventoryFilePath == "" {
		logger.Warn("collection message without collection id or inventory file")
		return broker.Ack
	}
	if _, err := os.Stat(msg.InventoryFilePath); err != nil {
		logger.Error("inventory file not readable", "file", msg.InventoryFilePath, "error", err)
		return broker.Ack
	}

	inv := &refs.CSVInventory{Path: msg.InventoryFilePath, Delimiter: c.delimiter}
	pages, err := c.writer.Write(ctx, msg.CollectionID, msg.JobID, inv)
	switch {
	case errors.Is(err, refs.ErrInvalidCollection):
		logger.Error("invalid collection", "error", err)
		return broker.Ack
	case err != nil:
		logger.Error("could not write collection references", "error", err)
		return broker.Requeue
	}
	logger.Info("collection references written", "pages", pages)
	return broker.Ack
}
