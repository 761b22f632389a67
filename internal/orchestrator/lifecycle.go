package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"harvest/internal/broker"
)

// Start loads the schema cache from the registry mapping, starts the
// scheduler and the type map watcher, and begins consuming. It blocks until
// the consumer has subscribed to every queue, retrying the broker connection
// until then; cancelling ctx abandons the wait and shuts everything down.
// An Orchestrator is started at most once.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}

	n, err := o.cache.Refresh(ctx, o.client, o.client.Index())
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.logger.Info("schema cache loaded", "index", o.client.Index(), "fields", n)

	runCtx, cancel := context.WithCancel(ctx)
	if cron := o.cfg.Schema.RefreshCron; cron != "" && !o.scheduler.HasJob(SchemaRefreshJob) {
		if err := o.scheduler.AddJob(SchemaRefreshJob, cron, o.refreshSchema, runCtx); err != nil {
			cancel()
			o.mu.Unlock()
			return err
		}
	}
	o.cancel = cancel
	o.running = true
	o.runErr = nil

	o.scheduler.Start()

	if path := o.cfg.Schema.DataTypesFile; path != "" {
		o.wg.Go(func() {
			if err := o.types.Watch(runCtx, path, o.logger); err != nil {
				o.logger.Warn("data type map watcher stopped", "error", err)
			}
		})
	}

	// waitCtx ends when the consumer exits, so a consumer that fails
	// outright does not leave Start waiting.
	waitCtx, consumerDone := context.WithCancel(runCtx)
	defer consumerDone()
	o.wg.Go(func() {
		defer consumerDone()
		if err := o.consumer.Run(runCtx); err != nil {
			o.logger.Error("broker consumer failed", "error", err)
			o.mu.Lock()
			o.runErr = err
			o.mu.Unlock()
		}
	})
	o.mu.Unlock()

	if err := o.consumer.WaitState(waitCtx, broker.Consuming); err != nil {
		stopErr := o.Stop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wait for broker: %w", ctxErr)
		}
		return fmt.Errorf("start consumer: %w", errors.Join(stopErr, err))
	}

	o.logger.Info("harvest started",
		"broker", o.cfg.Broker.Type,
		"registry", o.cfg.Registry.URL,
		"index", o.client.Index(),
		"schema_update", o.cfg.Schema.Update,
		"node", o.cfg.Harvest.NodeName)
	return nil
}

// Stop cancels consumption, waits for in-flight messages to settle and
// stops the scheduler. It returns the consumer's error, if it failed.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	schedErr := o.scheduler.Stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.cancel = nil
	o.logger.Info("harvest stopped")
	return errors.Join(o.runErr, schedErr)
}

// refreshSchema adds fields created outside this process (other harvest
// nodes, manual mapping changes) to the cache.
func (o *Orchestrator) refreshSchema(ctx context.Context) {
	n, err := o.cache.Refresh(ctx, o.client, o.client.Index())
	if err != nil {
		o.logger.Warn("schema cache refresh failed", "error", err)
		return
	}
	if n > 0 {
		o.logger.Info("schema cache refreshed", "new_fields", n, "fields", o.cache.Len())
	}
}
