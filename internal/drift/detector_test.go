package drift

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sacredlayer/internal/activity"
	"sacredlayer/internal/config"
	"sacredlayer/internal/content"
	"sacredlayer/internal/embedding"
	"sacredlayer/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fixture struct {
	detector *Detector
	registry *registry.Store
	activity *activity.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.NewStore(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	act, err := activity.NewStore(filepath.Join(dir, "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { act.Close() })

	cfg := config.DefaultConfig()
	return &fixture{
		detector: NewDetector(cfg, reg, act, embedding.NewOfflineEngine()),
		registry: reg,
		activity: act,
	}
}

func (f *fixture) approvedPlan(t *testing.T, projectID, planID, text string) {
	t.Helper()
	require.NoError(t, f.registry.Save(&registry.Plan{
		PlanID:      planID,
		ProjectID:   projectID,
		Title:       planID,
		Content:     text,
		ContentHash: content.Hash(text),
		Status:      registry.StatusDraft,
		CreatedAt:   time.Now().UTC(),
		ChunkCount:  1,
	}))
	require.NoError(t, f.registry.Approve(planID, "tester", time.Now().UTC()))
}

func (f *fixture) record(t *testing.T, projectID, content string, kind activity.Kind) {
	t.Helper()
	require.NoError(t, f.activity.Record(&activity.Record{
		ProjectID: projectID,
		Content:   content,
		Kind:      kind,
	}))
}

func TestAnalyzeNoPlans(t *testing.T) {
	f := newFixture(t)

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)
	assert.Equal(t, StatusNoPlans, analysis.Status)
	assert.Equal(t, 1.0, analysis.AlignmentScore)
	assert.Zero(t, analysis.SacredPlansChecked)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestAnalyzeNoActivity(t *testing.T) {
	f := newFixture(t)
	f.approvedPlan(t, "proj-1", "plan-1", "- implement the thing")

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)
	assert.Equal(t, StatusNoActivity, analysis.Status)
	assert.Equal(t, 0.5, analysis.AlignmentScore)
	assert.Equal(t, 1, analysis.SacredPlansChecked)
}

func TestAnalyzeViolationDetection(t *testing.T) {
	f := newFixture(t)
	f.approvedPlan(t, "proj-1", "plan-auth",
		"All authentication must use OAuth2 with PKCE flow.\n- Support refresh token rotation")

	f.record(t, "proj-1", "Added OAuth2 login flow with PKCE support", activity.KindCommit)
	f.record(t, "proj-1", "Refactored CSS styles for the marketing page", activity.KindCommit)

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)

	require.Len(t, analysis.Violations, 1)
	v := analysis.Violations[0]
	assert.Equal(t, "plan-auth", v.PlanID)
	assert.Contains(t, v.ActivityRef, "CSS")
	assert.Less(t, v.Similarity, f.detector.cfg.Drift.ViolationThreshold)
	assert.NotEmpty(t, v.ExpectedRequirement)
	assert.Contains(t, []string{"high", "medium"}, v.Severity)

	adherence, ok := analysis.PlanAdherence["plan-auth"]
	require.True(t, ok)
	assert.Greater(t, adherence, 0.0)
	assert.Less(t, adherence, 1.0)
}

func TestAnalyzeAligned(t *testing.T) {
	f := newFixture(t)
	f.approvedPlan(t, "proj-1", "plan-auth",
		"- Implement OAuth2 login flow with PKCE\n- Add refresh token rotation support")

	f.record(t, "proj-1", "Implement OAuth2 login flow with PKCE", activity.KindCommit)
	f.record(t, "proj-1", "Add refresh token rotation support", activity.KindCommit)

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)
	assert.Equal(t, StatusAligned, analysis.Status)
	assert.Empty(t, analysis.Violations)
	assert.Contains(t, analysis.Recommendations[len(analysis.Recommendations)-1], "well aligned")
}

func TestAnalyzeWindowExcludesOldActivity(t *testing.T) {
	f := newFixture(t)
	f.approvedPlan(t, "proj-1", "plan-1", "- implement widget caching")

	require.NoError(t, f.activity.Record(&activity.Record{
		ProjectID: "proj-1",
		Content:   "Rewrote everything in a different direction",
		Kind:      activity.KindChange,
		Timestamp: time.Now().Add(-30 * 24 * time.Hour),
	}))

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)
	assert.Equal(t, StatusNoActivity, analysis.Status)
}

func TestAnalyzeIgnoresDraftPlans(t *testing.T) {
	f := newFixture(t)
	text := "- completely unrelated requirement"
	require.NoError(t, f.registry.Save(&registry.Plan{
		PlanID:      "plan-draft",
		ProjectID:   "proj-1",
		Title:       "draft",
		Content:     text,
		ContentHash: content.Hash(text),
		Status:      registry.StatusDraft,
		CreatedAt:   time.Now().UTC(),
		ChunkCount:  1,
	}))

	analysis := f.detector.Analyze(context.Background(), "proj-1", 24*time.Hour)
	assert.Equal(t, StatusNoPlans, analysis.Status)
}

func TestAnalyzeNeverFails(t *testing.T) {
	f := newFixture(t)
	f.approvedPlan(t, "proj-1", "plan-1", "- implement parsing")
	f.record(t, "proj-1", "Implement parsing", activity.KindCommit)

	broken := NewDetector(f.detector.cfg, f.registry, f.activity, failingEngine{})
	analysis := broken.Analyze(context.Background(), "proj-1", 24*time.Hour)

	assert.Equal(t, StatusModerateDrift, analysis.Status)
	assert.Equal(t, 0.5, analysis.AlignmentScore)
	require.NotEmpty(t, analysis.Violations)
	assert.Equal(t, "analysis_error", analysis.Violations[0].ActivityRef)
}

func TestStatusBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  Status
	}{
		{0.95, StatusAligned},
		{0.8, StatusAligned},
		{0.79, StatusMinorDrift},
		{0.6, StatusMinorDrift},
		{0.59, StatusModerateDrift},
		{0.4, StatusModerateDrift},
		{0.39, StatusCriticalViolation},
		{0.0, StatusCriticalViolation},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.score), "score %.2f", tc.score)
	}
}

// failingEngine simulates an embedding backend outage.
type failingEngine struct{}

func (failingEngine) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend unavailable")
}

func (failingEngine) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend unavailable")
}

func (failingEngine) Dimensions() int { return 0 }
func (failingEngine) Name() string    { return "failing" }
