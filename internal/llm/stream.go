package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

func (c *client) ChatCompletionStream(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	bodyBytes, err := encodeRequest(req, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm stream request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	// UpstreamTimeout bounds connecting and the wait for the first line only.
	// Once data flows, parentCtx bounds the rest of the generation.
	ctx, cancel := context.WithCancelCause(parentCtx)
	firstLine := func() {}
	if d := c.cfg.UpstreamTimeout; d > 0 {
		timer := time.AfterFunc(d, func() {
			cancel(fmt.Errorf("llmclient: no stream data within %s: %w", d, context.DeadlineExceeded))
		})
		firstLine = func() { timer.Stop() }
	}
	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel(nil)
		defer firstLine()

		// Connect with retries; nothing is retried once bytes start flowing.
		resp, err := c.doWithRetry(ctx, bodyBytes, c.post("/chat/completions"))
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			c.logger.Error("llm stream connect failed",
				zap.String("model", req.Model),
				zap.Error(err),
			)
			results <- StreamResult{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			uerr := readUpstreamError(resp)
			c.logger.Error("llm stream provider error",
				zap.String("model", req.Model),
				zap.Int("status", uerr.Status),
				zap.String("error_type", uerr.Type),
				zap.String("error_message", uerr.Message),
			)
			results <- StreamResult{Err: uerr}
			return
		}

		c.readEvents(ctx, req.Model, resp.Body, results, firstLine)
	}()

	return results, nil
}

// readEvents parses the SSE body and forwards deltas until [DONE], EOF or ctx ends.
// firstLine is called once the first line has arrived.
func (c *client) readEvents(ctx context.Context, model string, body io.Reader, results chan<- StreamResult, firstLine func()) {
	reader := bufio.NewReader(body)
	chunkCount := 0
	started := false

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("llm stream cancelled",
				zap.String("model", model),
				zap.Error(context.Cause(ctx)),
			)
			trySend(results, StreamResult{Err: context.Cause(ctx)})
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				c.logger.Info("llm stream completed (EOF)",
					zap.String("model", model),
					zap.Int("chunks", chunkCount),
				)
				return
			}
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			results <- StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)}
			return
		}
		if !started {
			started = true
			firstLine()
		}

		line = bytes.TrimSpace(line)
		const prefix = "data: "
		if len(line) == 0 || !bytes.HasPrefix(line, []byte(prefix)) {
			continue
		}

		payload := bytes.TrimSpace(line[len(prefix):])
		if bytes.Equal(payload, []byte("[DONE]")) {
			c.logger.Info("llm stream received [DONE]",
				zap.String("model", model),
				zap.Int("chunks", chunkCount),
			)
			return
		}

		var chunk providerStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			results <- StreamResult{Err: fmt.Errorf("llmclient: unmarshal stream chunk: %w", err)}
			return
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				continue
			}
			chunkCount++

			select {
			case <-ctx.Done():
				trySend(results, StreamResult{Err: context.Cause(ctx)})
				return
			case results <- StreamResult{Chunk: &StreamChunk{
				Index:        choice.Index,
				Delta:        choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}}:
			}
		}
	}
}

// trySend delivers res unless the consumer has stopped reading.
func trySend(results chan<- StreamResult, res StreamResult) {
	select {
	case results <- res:
	default:
	}
}
