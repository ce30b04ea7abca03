// Package reports turns region tiers into LLM calls: the static region data,
// the prompts for each detail level, and the producers the freshness cache runs.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"regionpulse/internal/config"
	"regionpulse/internal/freshness"
	"regionpulse/internal/llm"
	"regionpulse/pkg/logging/logging"
)

var ErrUnknownRegion = errors.New("reports: unknown region")

// ModelSource names the model producers call when a tier doesn't pin one.
type ModelSource interface {
	Model(ctx context.Context) string
}

type Options struct {
	ElectionDate  string
	PulseKeywords []string
	Logger        *zap.Logger
}

// Builder makes producers that share one client, model source and region set.
type Builder struct {
	client   llm.Client
	models   ModelSource
	regions  *Registry
	date     string
	keywords []string
	logger   *zap.Logger
}

func NewBuilder(client llm.Client, models ModelSource, regions *Registry, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Builder{
		client:   client,
		models:   models,
		regions:  regions,
		date:     opts.ElectionDate,
		keywords: opts.PulseKeywords,
		logger:   opts.Logger,
	}
}

// Tiers builds one freshness tier per spec.
func (b *Builder) Tiers(specs []config.TierSpec) ([]freshness.Tier, error) {
	out := make([]freshness.Tier, 0, len(specs))
	for _, spec := range specs {
		p, err := b.Producer(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, freshness.Tier{
			Name:     spec.Name,
			TTL:      spec.TTL,
			Producer: p,
			Timeout:  spec.Timeout,
		})
	}
	return out, nil
}

// Producer returns the producer for one tier.
func (b *Builder) Producer(spec config.TierSpec) (freshness.Producer, error) {
	detail, err := ParseDetail(spec.Detail)
	if err != nil {
		return nil, fmt.Errorf("tier %q: %w", spec.Name, err)
	}

	return func(ctx context.Context, key string) (freshness.Value, error) {
		var prompt string
		if detail == DetailPulse {
			prompt = PulsePrompt(b.keywords, b.date)
		} else {
			reg, ok := b.regions.Lookup(key)
			if !ok {
				return freshness.Value{}, fmt.Errorf("%w: %q", ErrUnknownRegion, key)
			}
			prompt = RegionPrompt(detail, reg, b.date)
		}
		return b.generate(ctx, spec, key, prompt)
	}, nil
}

func (b *Builder) generate(ctx context.Context, spec config.TierSpec, key, prompt string) (freshness.Value, error) {
	model := spec.Model
	if model == "" {
		model = b.models.Model(ctx)
	}

	req := &llm.ChatRequest{
		Model: model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: spec.MaxTokens,
		Stream:    spec.Stream,
	}

	logger := logging.FromContextOr(ctx, b.logger)
	start := time.Now()

	text, served, err := llm.Complete(ctx, b.client, req)
	if err != nil {
		logger.Warn("report generation failed",
			zap.String("tier", spec.Name),
			zap.String("region", key),
			zap.String("model", model),
			zap.Error(err),
		)
		return freshness.Value{}, fmt.Errorf("generate %s report: %w", spec.Detail, err)
	}

	logger.Debug("report generated",
		zap.String("tier", spec.Name),
		zap.String("region", key),
		zap.String("model", served),
		zap.Bool("stream", spec.Stream),
		zap.Duration("duration", time.Since(start)),
	)
	return freshness.Value{Text: text, Model: served}, nil
}
