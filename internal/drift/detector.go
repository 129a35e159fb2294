package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sacredlayer/internal/activity"
	"sacredlayer/internal/config"
	"sacredlayer/internal/embedding"
	"sacredlayer/internal/logging"
	"sacredlayer/internal/registry"
)

// Status buckets an alignment score.
type Status string

const (
	StatusAligned           Status = "ALIGNED"
	StatusMinorDrift        Status = "MINOR_DRIFT"
	StatusModerateDrift     Status = "MODERATE_DRIFT"
	StatusCriticalViolation Status = "CRITICAL_VIOLATION"
	StatusNoPlans           Status = "NO_PLANS"
	StatusNoActivity        Status = "NO_ACTIVITY"
)

// statusFor maps an alignment score onto the drift buckets.
func statusFor(score float64) Status {
	switch {
	case score >= 0.8:
		return StatusAligned
	case score >= 0.6:
		return StatusMinorDrift
	case score >= 0.4:
		return StatusModerateDrift
	default:
		return StatusCriticalViolation
	}
}

// Violation is one activity whose best similarity against a plan's
// requirements fell below the violation threshold.
type Violation struct {
	PlanID              string        `json:"plan_id,omitempty"`
	ActivityRef         string        `json:"activity_ref"`
	ActivityKind        activity.Kind `json:"activity_kind,omitempty"`
	Similarity          float64       `json:"similarity"`
	ExpectedRequirement string        `json:"expected_requirement"`
	Severity            string        `json:"severity"` // high or medium
}

// Analysis is the full drift report for one project and window.
type Analysis struct {
	ProjectID          string             `json:"project_id"`
	Status             Status             `json:"status"`
	AlignmentScore     float64            `json:"alignment_score"`
	Violations         []Violation        `json:"violations,omitempty"`
	Recommendations    []string           `json:"recommendations,omitempty"`
	PlanAdherence      map[string]float64 `json:"plan_adherence,omitempty"`
	AnalyzedAt         time.Time          `json:"analyzed_at"`
	SacredPlansChecked int                `json:"sacred_plans_checked"`
}

// Detector compares activity against approved plan requirements.
type Detector struct {
	cfg      *config.Config
	registry *registry.Store
	source   activity.Source
	engine   embedding.Engine
}

// NewDetector wires a drift detector.
func NewDetector(cfg *config.Config, reg *registry.Store, source activity.Source, engine embedding.Engine) *Detector {
	return &Detector{cfg: cfg, registry: reg, source: source, engine: engine}
}

// Analyze scores the project's recent activity against its approved and
// locked plans. It never returns an error: drift detection is advisory, so
// internal failures degrade to a report carrying an analysis_error violation
// rather than blocking the caller.
func (d *Detector) Analyze(ctx context.Context, projectID string, window time.Duration) *Analysis {
	analysis := &Analysis{
		ProjectID:     projectID,
		PlanAdherence: make(map[string]float64),
		AnalyzedAt:    time.Now().UTC(),
	}

	timer := logging.StartTimer(logging.CategoryDrift, "analyze "+projectID)
	defer timer.Stop()

	plans, err := d.activePlans(projectID)
	if err != nil {
		return d.degrade(analysis, fmt.Errorf("loading plans: %w", err))
	}
	analysis.SacredPlansChecked = len(plans)
	if len(plans) == 0 {
		analysis.Status = StatusNoPlans
		analysis.AlignmentScore = 1.0
		analysis.Recommendations = append(analysis.Recommendations,
			"No approved plans exist for this project; create and approve a plan to enable drift detection.")
		return analysis
	}

	records, err := d.source.Recent(projectID, analysis.AnalyzedAt.Add(-window))
	if err != nil {
		return d.degrade(analysis, fmt.Errorf("loading activity: %w", err))
	}
	if len(records) == 0 {
		analysis.Status = StatusNoActivity
		analysis.AlignmentScore = 0.5
		analysis.Recommendations = append(analysis.Recommendations,
			"No recent activity recorded; drift cannot be assessed for this window.")
		return analysis
	}

	activityTexts := make([]string, len(records))
	for i, rec := range records {
		activityTexts[i] = rec.Content
	}
	activityVecs, err := d.engine.EmbedBatch(ctx, activityTexts)
	if err != nil {
		return d.degrade(analysis, fmt.Errorf("embedding activity: %w", err))
	}

	var planScores []float64
	for _, plan := range plans {
		requirements := ExtractRequirements(plan.Content)
		if len(requirements) == 0 {
			continue
		}
		reqVecs, err := d.engine.EmbedBatch(ctx, requirements)
		if err != nil {
			return d.degrade(analysis, fmt.Errorf("embedding requirements of %s: %w", plan.PlanID, err))
		}

		// Per activity, its max similarity against this plan's requirements
		// is its adherence to the plan; below the threshold it is a
		// violation against this plan, referencing the closest requirement.
		var sum float64
		for i, actVec := range activityVecs {
			maxSim := 0.0
			maxReq := requirements[0]
			for j, reqVec := range reqVecs {
				sim, err := embedding.BoundedSimilarity(actVec, reqVec)
				if err != nil {
					continue
				}
				if sim > maxSim {
					maxSim = sim
					maxReq = requirements[j]
				}
			}
			sum += maxSim

			if maxSim < d.cfg.Drift.ViolationThreshold {
				severity := "medium"
				if maxSim < d.cfg.Drift.HighSeverityBelow {
					severity = "high"
				}
				analysis.Violations = append(analysis.Violations, Violation{
					PlanID:              plan.PlanID,
					ActivityRef:         records[i].Content,
					ActivityKind:        records[i].Kind,
					Similarity:          maxSim,
					ExpectedRequirement: maxReq,
					Severity:            severity,
				})
			}
		}

		adherence := sum / float64(len(records))
		analysis.PlanAdherence[plan.PlanID] = adherence
		planScores = append(planScores, adherence)
		logging.DriftDebug("Plan %s adherence %.3f over %d activities", plan.PlanID, adherence, len(records))
	}

	if len(planScores) == 0 {
		// Plans existed but none yielded requirements.
		analysis.Status = StatusNoPlans
		analysis.AlignmentScore = 1.0
		analysis.Recommendations = append(analysis.Recommendations,
			"Approved plans contain no extractable requirements; add explicit requirement statements.")
		return analysis
	}

	var total float64
	for _, s := range planScores {
		total += s
	}
	analysis.AlignmentScore = total / float64(len(planScores))
	analysis.Status = statusFor(analysis.AlignmentScore)

	analysis.Recommendations = d.recommend(analysis)
	logging.Drift("Project %s: %s (score %.3f, %d violations, %d plans)",
		projectID, analysis.Status, analysis.AlignmentScore, len(analysis.Violations), len(plans))
	return analysis
}

// activePlans loads the full content of every approved or locked plan.
func (d *Detector) activePlans(projectID string) ([]*registry.Plan, error) {
	var plans []*registry.Plan
	for _, status := range []registry.PlanStatus{registry.StatusApproved, registry.StatusLocked} {
		summaries, err := d.registry.List(projectID, status)
		if err != nil {
			return nil, err
		}
		for _, summary := range summaries {
			plan, err := d.registry.Get(summary.PlanID)
			if err != nil {
				return nil, err
			}
			plans = append(plans, plan)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })
	return plans, nil
}

// degrade produces the advisory failure report.
func (d *Detector) degrade(analysis *Analysis, err error) *Analysis {
	logging.Drift("Analysis degraded for %s: %v", analysis.ProjectID, err)
	analysis.Status = StatusModerateDrift
	analysis.AlignmentScore = 0.5
	analysis.Violations = append(analysis.Violations, Violation{
		ActivityRef:         "analysis_error",
		Similarity:          0,
		ExpectedRequirement: err.Error(),
		Severity:            "medium",
	})
	analysis.Recommendations = append(analysis.Recommendations,
		"Drift analysis degraded by an internal error; treat this report as inconclusive.")
	return analysis
}

// recommend derives operator guidance from the finished analysis.
func (d *Detector) recommend(analysis *Analysis) []string {
	var recs []string

	if analysis.Status == StatusCriticalViolation {
		recs = append(recs, "Recent work has drifted critically from approved plans; realign or supersede the plans before continuing.")
	}

	var lowPlans []string
	for planID, score := range analysis.PlanAdherence {
		if score < 0.5 {
			lowPlans = append(lowPlans, planID)
		}
	}
	sort.Strings(lowPlans)
	for _, planID := range lowPlans {
		recs = append(recs, fmt.Sprintf("Plan %s shows low adherence (%.2f); review whether it is still the intended direction.", planID, analysis.PlanAdherence[planID]))
	}

	kindCounts := make(map[activity.Kind]int)
	for _, v := range analysis.Violations {
		if v.Severity == "high" {
			kindCounts[v.ActivityKind]++
		}
	}
	var worstKind activity.Kind
	worstCount := 0
	for kind, count := range kindCounts {
		if count > worstCount || (count == worstCount && string(kind) < string(worstKind)) {
			worstKind, worstCount = kind, count
		}
	}
	if worstCount > 0 {
		recs = append(recs, fmt.Sprintf("High-severity drift concentrates in %s activity; audit those entries against the plans first.", worstKind))
	}

	if len(analysis.Violations) == 0 && analysis.AlignmentScore >= 0.8 {
		recs = append(recs, "Activity is well aligned with approved plans.")
	}
	return recs
}
