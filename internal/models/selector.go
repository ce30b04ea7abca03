// Package models picks which upstream model the producers call.
//
// The choice is made once per process: the provider is probed for the models
// the credentials may invoke, and the first entry of a priority list that is
// available wins. Probing never fails the caller; every error path lands on a
// usable identifier. The catalog is not refreshed after the first probe, so a
// credential change mid-process goes unnoticed until restart.
package models

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"regionpulse/internal/llm"
	"regionpulse/internal/metrics"
)

// ProbeFunc returns the model identifiers the caller may invoke.
type ProbeFunc func(ctx context.Context) ([]string, error)

// Source tells why a model was selected.
type Source string

const (
	SourcePriority  Source = "priority"
	SourceAvailable Source = "available"
	SourceFallback  Source = "fallback"
)

// Catalog is the outcome of one resolution.
type Catalog struct {
	Available     []string
	PriorityOrder []string
	Selected      string
	Source        Source

	// ProbeErr is the recovered probe failure, if any.
	ProbeErr error
}

// ResolveModel calls probe once and picks the first priority entry that is
// available. With nothing in common it takes the first available model; with
// nothing available, or a failed probe, it returns fallback.
func ResolveModel(ctx context.Context, priority []string, probe ProbeFunc, fallback string) Catalog {
	cat := Catalog{
		PriorityOrder: append([]string(nil), priority...),
		Selected:      fallback,
		Source:        SourceFallback,
	}

	available, err := safeProbe(ctx, probe)
	if err != nil {
		cat.ProbeErr = err
		return cat
	}

	seen := make(map[string]struct{}, len(available))
	for _, id := range available {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cat.Available = append(cat.Available, id)
	}
	if len(cat.Available) == 0 {
		return cat
	}

	for _, want := range priority {
		if _, ok := seen[normalizeID(want)]; ok {
			cat.Selected = normalizeID(want)
			cat.Source = SourcePriority
			return cat
		}
	}

	cat.Selected = cat.Available[0]
	cat.Source = SourceAvailable
	return cat
}

// safeProbe turns a panicking probe into an error.
func safeProbe(ctx context.Context, probe ProbeFunc) (ids []string, err error) {
	if probe == nil {
		return nil, errNoProbe
	}
	defer func() {
		if rec := recover(); rec != nil {
			ids, err = nil, &probePanic{value: rec}
		}
	}()
	return probe(ctx)
}

// Some providers list models as "models/<id>".
func normalizeID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "models/")
}

// Config is the selector's fixed configuration.
type Config struct {
	Priority []string
	Fallback string

	// ProbeTimeout bounds the single probe call. Default 10s.
	ProbeTimeout time.Duration
}

// Selector memoizes ResolveModel for the life of the process.
type Selector struct {
	cfg    Config
	probe  ProbeFunc
	logger *zap.Logger

	once sync.Once
	cat  Catalog
}

func NewSelector(cfg Config, probe ProbeFunc, logger *zap.Logger) *Selector {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{cfg: cfg, probe: probe, logger: logger}
}

// Model returns the selected model id, probing on first use.
func (s *Selector) Model(ctx context.Context) string {
	return s.Catalog(ctx).Selected
}

// Catalog returns the memoized resolution. The first caller probes; callers
// arriving meanwhile wait for it and nobody probes again.
func (s *Selector) Catalog(ctx context.Context) Catalog {
	s.once.Do(func() {
		// a caller that goes away must not leave the fallback memoized
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProbeTimeout)
		defer cancel()

		start := time.Now()
		s.cat = ResolveModel(pctx, s.cfg.Priority, s.probe, s.cfg.Fallback)
		s.report(time.Since(start))
	})
	return s.cat
}

func (s *Selector) report(elapsed time.Duration) {
	metrics.SelectedModel.WithLabelValues(s.cat.Selected, string(s.cat.Source)).Set(1)

	fields := []zap.Field{
		zap.String("model", s.cat.Selected),
		zap.String("source", string(s.cat.Source)),
		zap.Int("available", len(s.cat.Available)),
		zap.Duration("duration", elapsed),
	}
	if s.cat.ProbeErr != nil {
		s.logger.Warn("model probe failed; using fallback", append(fields, zap.Error(s.cat.ProbeErr))...)
		return
	}
	s.logger.Info("model selected", fields...)
}

// ListModelsProbe adapts an llm.Client to a ProbeFunc.
func ListModelsProbe(c llm.Client) ProbeFunc {
	return func(ctx context.Context) ([]string, error) {
		list, err := c.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(list))
		for _, m := range list {
			ids = append(ids, m.ID)
		}
		return ids, nil
	}
}
