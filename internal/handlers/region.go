package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"regionpulse/internal/freshness"
	"regionpulse/internal/models"
	"regionpulse/internal/reports"
	"regionpulse/pkg/logging/logging"
)

// Reports is the read side of the tiered cache.
type Reports interface {
	Get(ctx context.Context, tier, key string) (freshness.Result, error)
	GetProgressive(ctx context.Context, key string) (freshness.Progressive, error)
	Tiers() []freshness.TierInfo
	FastTier() string
	DeepTier() string
}

// CatalogSource exposes the memoized model choice.
type CatalogSource interface {
	Catalog(ctx context.Context) models.Catalog
}

type Options struct {
	// PulseTier serves /v1/pulse; empty disables it.
	PulseTier string

	// StreamTimeout bounds one SSE response. Default 5m.
	StreamTimeout time.Duration
}

// RegionHandler serves region reports out of the tiered cache.
type RegionHandler struct {
	Reports       Reports
	Regions       *reports.Registry
	Catalog       CatalogSource
	PulseTier     string
	StreamTimeout time.Duration
}

func NewRegionHandler(rep Reports, regions *reports.Registry, catalog CatalogSource, opts Options) *RegionHandler {
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Minute
	}
	return &RegionHandler{
		Reports:       rep,
		Regions:       regions,
		Catalog:       catalog,
		PulseTier:     opts.PulseTier,
		StreamTimeout: opts.StreamTimeout,
	}
}

// ListRegions handles GET /v1/regions.
func (h *RegionHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regions": h.Regions.All(),
	})
}

type tierInfo struct {
	Name       string  `json:"name"`
	TTL        string  `json:"ttl"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// ListTiers handles GET /v1/tiers.
func (h *RegionHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers := h.Reports.Tiers()
	out := make([]tierInfo, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierInfo{Name: t.Name, TTL: t.TTL.String(), TTLSeconds: t.TTL.Seconds()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": out,
		"fast":  h.Reports.FastTier(),
		"deep":  h.Reports.DeepTier(),
		"pulse": h.PulseTier,
	})
}

type modelResponse struct {
	Model      string   `json:"model"`
	Source     string   `json:"source"`
	Priority   []string `json:"priority"`
	Available  []string `json:"available"`
	ProbeError string   `json:"probe_error,omitempty"`
}

// Model handles GET /v1/model.
func (h *RegionHandler) Model(w http.ResponseWriter, r *http.Request) {
	cat := h.Catalog.Catalog(r.Context())
	resp := modelResponse{
		Model:     cat.Selected,
		Source:    string(cat.Source),
		Priority:  cat.PriorityOrder,
		Available: cat.Available,
	}
	if cat.ProbeErr != nil {
		resp.ProbeError = cat.ProbeErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// TierReport handles GET /v1/regions/{region}/tiers/{tier}.
// ?excerpt=N trims the content to N characters for list previews.
func (h *RegionHandler) TierReport(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	excerpt, ok := parseExcerpt(w, r)
	if !ok {
		return
	}

	tier := chi.URLParam(r, "tier")
	if tier != "" && tier == h.PulseTier {
		writeErrorCode(w, http.StatusNotFound, "unknown_tier", "the pulse tier is served at /v1/pulse")
		return
	}

	res, err := h.Reports.Get(r.Context(), tier, reg.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logServed(r, res)
	writeJSON(w, http.StatusOK, newReport(res, excerpt))
}

type progressiveResponse struct {
	Region      string          `json:"region"`
	Matchup     string          `json:"matchup,omitempty"`
	Fast        reportResponse  `json:"fast"`
	Deep        *reportResponse `json:"deep"`
	DeepPending bool            `json:"deep_pending"`
	DeepError   *errorResponse  `json:"deep_error,omitempty"`
}

// Progressive handles GET /v1/regions/{region}/progressive.
// The fast report is always present; the deep one is either fresh, stale
// with deep_pending set, or absent while it computes.
func (h *RegionHandler) Progressive(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	excerpt, ok := parseExcerpt(w, r)
	if !ok {
		return
	}

	p, err := h.Reports.GetProgressive(r.Context(), reg.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := progressiveResponse{
		Region:      reg.Name,
		Matchup:     reg.Matchup,
		Fast:        newReport(p.Fast, excerpt),
		DeepPending: p.DeepPending,
	}
	if p.Deep != nil {
		deep := newReport(*p.Deep, 0)
		resp.Deep = &deep
	}
	if p.DeepErr != nil {
		_, body := classify(p.DeepErr)
		resp.DeepError = &body
	}

	logging.L(r.Context()).Info("progressive_served",
		zap.String("region", reg.Name),
		zap.String("fast_source", string(p.Fast.Source)),
		zap.Bool("deep_ready", p.Deep != nil && !p.DeepPending),
		zap.Bool("deep_pending", p.DeepPending),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Pulse handles GET /v1/pulse.
func (h *RegionHandler) Pulse(w http.ResponseWriter, r *http.Request) {
	if h.PulseTier == "" {
		writeErrorCode(w, http.StatusNotFound, "unknown_tier", "pulse is not configured")
		return
	}
	res, err := h.Reports.Get(r.Context(), h.PulseTier, reports.PulseKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logServed(r, res)
	writeJSON(w, http.StatusOK, newReport(res, 0))
}

func (h *RegionHandler) region(w http.ResponseWriter, r *http.Request) (reports.Region, bool) {
	name := chi.URLParam(r, "region")
	if u, err := url.PathUnescape(name); err == nil {
		name = u
	}
	reg, ok := h.Regions.Lookup(name)
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "unknown_region", "unknown region "+strconv.Quote(name))
		return reports.Region{}, false
	}
	return reg, true
}

func parseExcerpt(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("excerpt")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "excerpt must be a positive integer")
		return 0, false
	}
	return n, true
}

func (h *RegionHandler) logServed(r *http.Request, res freshness.Result) {
	logging.L(r.Context()).Info("report_served",
		zap.String("tier", res.Tier),
		zap.String("region", res.Key),
		zap.String("source", string(res.Source)),
		zap.Bool("stale", res.Stale),
		zap.Duration("age", res.Age),
	)
}
