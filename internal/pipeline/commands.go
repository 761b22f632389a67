package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"harvest/internal/broker"
	"harvest/internal/logging"
	"harvest/internal/registry"
)

// CommandSetArchiveStatus changes the archive status of a product.
const CommandSetArchiveStatus = "setArchiveStatus"

// ProductStore reads and updates registered products.
type ProductStore interface {
	ProductClass(ctx context.Context, lidvid string) (string, error)
	SetArchiveStatus(ctx context.Context, lidvid, status string) error
}

// CommandsConfig configures Commands.
type CommandsConfig struct {
	Store  ProductStore
	Logger *slog.Logger
}

// Commands runs administrative requests.
type Commands struct {
	store  ProductStore
	logger *slog.Logger
}

// NewCommands creates a command pipeline.
func NewCommands(cfg CommandsConfig) *Commands {
	return &Commands{
		store:  cfg.Store,
		logger: logging.Default(cfg.Logger).With("component", "pipeline", "queue", "commands"),
	}
}

// Process runs one command. Unknown commands are acknowledged.
func (c *Commands) Process(ctx context.Context, msg CommandMessage) broker.Outcome {
	logger := c.logger.With("command", msg.Command, "request", msg.RequestID)
	switch msg.Command {
	case CommandSetArchiveStatus:
		return c.setArchiveStatus(ctx, logger, msg.Params)
	default:
		logger.Warn("unknown command")
		return broker.Ack
	}
}

func (c *Commands) setArchiveStatus(ctx context.Context, logger *slog.Logger, params map[string]string) broker.Outcome {
	lidvid, status := params["lidvid"], params["status"]
	if lidvid == "" || status == "" {
		logger.Error("setArchiveStatus requires lidvid and status")
		return broker.Ack
	}
	if !registry.ValidArchiveStatus(status) {
		logger.Error("invalid archive status", "status", status, "valid", registry.ArchiveStatuses)
		return broker.Ack
	}
	logger = logger.With("lidvid", lidvid)

	class, err := c.store.ProductClass(ctx, lidvid)
	if errors.Is(err, registry.ErrNotFound) {
		logger.Warn("product not registered")
		return broker.Ack
	}
	if err != nil {
		logger.Error("could not read product", "error", err)
		return broker.Requeue
	}

	if err := c.store.SetArchiveStatus(ctx, lidvid, status); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			logger.Warn("product not registered")
			return broker.Ack
		}
		logger.Error("could not set archive status", "error", err)
		return broker.Requeue
	}
	logger.Info("archive status set", "status", status, "product_class", class)
	return broker.Ack
}
