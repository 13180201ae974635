// Package routing selects the best resource for a job from the latest
// telemetry snapshots, honoring eligibility gates, caller hints, and the SLA
// fallback policy.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/scoring"
)

// Router places jobs onto resources. Stateless between calls; identical
// snapshots and request produce identical decisions.
type Router struct {
	telemetry core.TelemetryRepository
	scorer    *scoring.Scorer
	cfg       config.RouterConfig
	logger    *slog.Logger
}

// RouterOptions bundles dependencies for NewRouter.
type RouterOptions struct {
	Telemetry core.TelemetryRepository
	Scorer    *scoring.Scorer
	Config    config.RouterConfig
	Logger    *slog.Logger
}

// NewRouter creates a new Router.
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		telemetry: opts.Telemetry,
		scorer:    opts.Scorer,
		cfg:       opts.Config,
		logger:    logger,
	}
}

// eligible applies the hard gates that remove a resource from consideration
// regardless of score: GPU requirement and the fleet reliability floor.
func (r *Router) eligible(t *model.TelemetryPoint, req *model.JobRequest) bool {
	if req.RequiresGPU && t.ResourceType != model.ResourceTypeGPU {
		return false
	}
	if t.Reliability < r.cfg.ReliabilityFloor {
		return false
	}
	return true
}

// hintAllowed applies caller routing hints. Exclusions always win over force
// hints.
func hintAllowed(t *model.TelemetryPoint, hints *model.RoutingHints) bool {
	if hints.Excluded(t.ResourceID) {
		return false
	}
	if hints.ForceResourceID != "" && t.ResourceID != hints.ForceResourceID {
		return false
	}
	if hints.ForceResourceType != "" && t.ResourceType != hints.ForceResourceType {
		return false
	}
	return true
}

type scored struct {
	point *model.TelemetryPoint
	score model.ScoreBreakdown
}

// Route scores the eligible candidates and picks a winner: best final score
// among SLA-compliant resources, else (when fallback is allowed) best
// effective score among violators, else the sentinel decision. Candidates
// are visited in the store's (resource_type, resource_id) order and ties
// keep the first encountered, so routing is deterministic.
func (r *Router) Route(ctx context.Context, req *model.JobRequest) (*model.RouteDecision, error) {
	snapshots, err := r.telemetry.ListLatestSnapshots(ctx, r.cfg.SnapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("list resource snapshots: %w", err)
	}

	var (
		considered []model.ConsideredResource
		ok, bad    []scored
	)
	for i := range snapshots {
		t := &snapshots[i].Last
		if !hintAllowed(t, &req.Hints) {
			continue
		}
		if !r.eligible(t, req) {
			continue
		}

		b := r.scorer.Score(t, req)
		considered = append(considered, model.ConsideredResource{
			ResourceID:   t.ResourceID,
			ResourceType: t.ResourceType,
			Score:        b,
		})
		if b.SLAOK {
			ok = append(ok, scored{point: t, score: b})
		} else {
			bad = append(bad, scored{point: t, score: b})
		}
	}

	sort.SliceStable(considered, func(i, j int) bool {
		return considered[i].Score.EffectiveScore > considered[j].Score.EffectiveScore
	})

	decision := r.decide(req, considered, ok, bad)

	r.logger.InfoContext(ctx, "route decision",
		"job_id", req.JobID,
		"chosen_resource_id", decision.ChosenResourceID,
		"chosen_resource_type", decision.ChosenResourceType,
		"candidates", len(considered),
	)
	return decision, nil
}

func (r *Router) decide(
	req *model.JobRequest,
	considered []model.ConsideredResource,
	ok, bad []scored,
) *model.RouteDecision {
	if best := bestBy(ok, func(s scored) float64 { return s.score.FinalScore }); best != nil {
		return &model.RouteDecision{
			JobID:              req.JobID,
			ChosenResourceID:   best.point.ResourceID,
			ChosenResourceType: best.point.ResourceType,
			Considered:         considered,
			Explanation: fmt.Sprintf(
				"[SLA OK] Chose %s (%s) score=%.3f. Latency=%.0fms, Cost=$%.4f, Reliability=%.3f, Congestion=%.2f.",
				best.point.ResourceID, best.point.ResourceType,
				best.score.FinalScore, best.score.LatencyPredMS, best.score.CostPredUSD,
				best.score.Reliability, best.score.Congestion,
			),
		}
	}

	if !req.FallbackAllowed() {
		return &model.RouteDecision{
			JobID:              req.JobID,
			ChosenResourceID:   model.NoResourceID,
			ChosenResourceType: model.ResourceTypeEdge,
			Considered:         considered,
			Explanation: "No SLA-compliant resources found. Dispatch blocked because allow_sla_fallback=false. " +
				"Relax SLA or enable fallback.",
		}
	}

	if best := bestBy(bad, func(s scored) float64 { return s.score.EffectiveScore }); best != nil {
		return &model.RouteDecision{
			JobID:              req.JobID,
			ChosenResourceID:   best.point.ResourceID,
			ChosenResourceType: best.point.ResourceType,
			Considered:         considered,
			Explanation: fmt.Sprintf(
				"[SLA FALLBACK] No SLA-compliant resources. Chose best-available %s (%s) effective_score=%.3f (raw=%.3f). SLA warnings: %s",
				best.point.ResourceID, best.point.ResourceType,
				best.score.EffectiveScore, best.score.FinalScore,
				strings.Join(best.score.SLAViolations, "; "),
			),
		}
	}

	return &model.RouteDecision{
		JobID:              req.JobID,
		ChosenResourceID:   model.NoResourceID,
		ChosenResourceType: model.ResourceTypeEdge,
		Considered:         considered,
		Explanation:        "No eligible resources found (check telemetry + requires_gpu + reliability gates).",
	}
}

// bestBy returns the candidate with the strictly highest key, keeping the
// first encountered on ties.
func bestBy(candidates []scored, key func(scored) float64) *scored {
	if len(candidates) == 0 {
		return nil
	}
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if key(candidates[i]) > key(*best) {
			best = &candidates[i]
		}
	}
	return best
}
