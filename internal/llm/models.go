package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ListModels asks the provider which models the API key may invoke.
func (c *client) ListModels(parentCtx context.Context) ([]Model, error) {
	start := time.Now()

	ctx, cancel := c.withUpstreamTimeout(parentCtx)
	defer cancel()

	resp, err := c.doWithRetry(ctx, nil, c.get("/models"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := readUpstreamError(resp)
		c.logger.Warn("llm model listing failed",
			zap.Int("status", uerr.Status),
			zap.String("error_message", uerr.Message),
		)
		return nil, uerr
	}

	var list providerModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("llmclient: decode model list: %w", err)
	}

	out := make([]Model, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID == "" {
			continue
		}
		out = append(out, Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}

	c.logger.Info("llm model listing completed",
		zap.Int("models", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
