package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned when the provider answered without any text.
var ErrEmptyCompletion = errors.New("llmclient: empty completion")

// Complete runs req and returns the generated text and the model that served it.
// When req.Stream is set the streaming endpoint is used and the deltas are
// joined; long generations then don't sit idle on one response.
func Complete(ctx context.Context, c Client, req *ChatRequest) (text, model string, err error) {
	if !req.Stream {
		resp, err := c.ChatCompletion(ctx, req)
		if err != nil {
			return "", "", err
		}
		text = resp.Text()
		if text == "" {
			return "", "", ErrEmptyCompletion
		}
		model = resp.Model
		if model == "" {
			model = req.Model
		}
		return text, model, nil
	}

	stream, err := c.ChatCompletionStream(ctx, req)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	var streamErr error
	for res := range stream {
		if res.Err != nil {
			// keep draining so the reader goroutine can exit
			if streamErr == nil {
				streamErr = res.Err
			}
			continue
		}
		if res.Chunk != nil && res.Chunk.Index == 0 {
			b.WriteString(res.Chunk.Delta)
		}
	}
	if streamErr != nil {
		return "", "", streamErr
	}

	text = strings.TrimSpace(b.String())
	if text == "" {
		return "", "", ErrEmptyCompletion
	}
	return text, req.Model, nil
}
