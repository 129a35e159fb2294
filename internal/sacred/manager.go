// Package sacred is the governance layer over the plan registry: plan
// creation, two-factor approval, locking, supersession, and semantic query
// against approved plans. Plans are immutable once approved; the registry
// enforces the state machine and this package enforces the two approval
// factors and keeps the vector index in step with plan status.
package sacred

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sacredlayer/internal/config"
	"sacredlayer/internal/content"
	"sacredlayer/internal/embedding"
	"sacredlayer/internal/logging"
	"sacredlayer/internal/registry"
	"sacredlayer/internal/vector"
)

// indexWorkers bounds concurrent chunk embedding during approval.
const indexWorkers = 4

// chunkType tags vector entries owned by this package.
const chunkType = "sacred_plan"

// Manager coordinates the registry, the vector index, and the embedding
// engine. All mutations go through the registry first; the vector index is
// derived state.
type Manager struct {
	cfg      *config.Config
	registry *registry.Store
	vectors  *vector.Store
	engine   embedding.Engine
	keys     KeyProvider
}

// NewManager wires the sacred layer together.
func NewManager(cfg *config.Config, reg *registry.Store, vec *vector.Store, engine embedding.Engine, keys KeyProvider) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		vectors:  vec,
		engine:   engine,
		keys:     keys,
	}
}

// CreatePlan stores a new draft plan and returns it along with its
// verification code. The code is shown once here; it can be recovered later
// via VerificationCode by anyone with registry access.
func (m *Manager) CreatePlan(projectID, title, planContent string) (*registry.Plan, string, error) {
	if projectID == "" {
		return nil, "", fmt.Errorf("project id is required")
	}
	if planContent == "" {
		return nil, "", fmt.Errorf("plan content is required")
	}

	hash := content.Hash(planContent)
	component, err := content.NewRandomComponent()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate verification component: %w", err)
	}

	chunks := content.Chunk(planContent, m.cfg.Chunking.TargetSize)
	plan := &registry.Plan{
		PlanID:        fmt.Sprintf("plan-%s-%s", hash[:8], uuid.NewString()[:8]),
		ProjectID:     projectID,
		Title:         title,
		Content:       planContent,
		ContentHash:   hash,
		Status:        registry.StatusDraft,
		CreatedAt:     time.Now().UTC(),
		CodeComponent: component,
		ChunkCount:    len(chunks),
	}

	if err := m.registry.Save(plan); err != nil {
		return nil, "", err
	}

	code := content.VerificationCode(component, hash)
	logging.Sacred("Created plan %s (%d chunks) for project %s", plan.PlanID, plan.ChunkCount, projectID)
	return plan, code, nil
}

// UpdateDraft replaces the content of a plan that has not yet been approved.
// The content hash and chunk count are recomputed; the verification code
// changes with the content because its hash half moves.
func (m *Manager) UpdateDraft(planID, title, newContent string) error {
	if newContent == "" {
		return fmt.Errorf("plan content is required")
	}
	chunks := content.Chunk(newContent, m.cfg.Chunking.TargetSize)
	return m.registry.UpdateContent(planID, title, newContent, len(chunks))
}

// VerificationCode recomputes the approval code for a plan.
func (m *Manager) VerificationCode(planID string) (string, error) {
	plan, err := m.registry.Get(planID)
	if err != nil {
		return "", err
	}
	return content.VerificationCode(plan.CodeComponent, plan.ContentHash), nil
}

// SubmitPlan moves a draft into pending approval.
func (m *Manager) SubmitPlan(planID string) error {
	if err := m.registry.Transition(planID, registry.StatusPendingApproval); err != nil {
		return err
	}
	logging.Sacred("Plan %s submitted for approval", planID)
	return nil
}

// ApprovePlan performs the two-factor approval. Both factors are checked
// independently; a mismatch in either returns ok=false with an operator
// message, not an error. Errors are reserved for infrastructure failures,
// including IndexingError when the approval committed but chunk indexing did
// not complete.
func (m *Manager) ApprovePlan(ctx context.Context, planID, approver, verificationCode, secondaryKey string) (bool, string, error) {
	plan, err := m.registry.Get(planID)
	if err != nil {
		return false, "", err
	}

	expected := content.VerificationCode(plan.CodeComponent, plan.ContentHash)
	codeOK := constantTimeEqual(verificationCode, expected)

	operatorKey, err := m.keys.Key()
	if err != nil {
		return false, "", err
	}
	keyOK := constantTimeEqual(secondaryKey, operatorKey)

	// Evaluate both factors before reporting so a failure message never
	// confirms the other factor.
	if !codeOK {
		logging.Sacred("Approval of %s rejected: verification code mismatch", planID)
		return false, "approval rejected: " + ErrVerificationCodeMismatch.Error(), nil
	}
	if !keyOK {
		logging.Sacred("Approval of %s rejected: secondary key mismatch", planID)
		return false, "approval rejected: " + ErrSecondaryKeyMismatch.Error(), nil
	}

	if err := m.registry.Approve(planID, approver, time.Now().UTC()); err != nil {
		var invalid *registry.InvalidTransitionError
		if errors.As(err, &invalid) {
			return false, fmt.Sprintf("approval rejected: plan is %s", invalid.From), nil
		}
		return false, "", err
	}

	logging.Sacred("Plan %s approved by %s", planID, approver)

	approved, err := m.registry.Get(planID)
	if err != nil {
		return true, "plan approved", &IndexingError{PlanID: planID, Err: err}
	}
	if err := m.indexPlan(ctx, approved); err != nil {
		return true, "plan approved", &IndexingError{PlanID: planID, Err: err}
	}
	return true, "plan approved", nil
}

// ReindexPlan re-pushes an approved or locked plan's chunks into the vector
// index. Recovery path for IndexingError.
func (m *Manager) ReindexPlan(ctx context.Context, planID string) error {
	plan, err := m.registry.Get(planID)
	if err != nil {
		return err
	}
	if !plan.Status.Immutable() || plan.Status == registry.StatusSuperseded {
		return fmt.Errorf("plan %s is %s; only approved or locked plans are indexed", planID, plan.Status)
	}
	return m.indexPlan(ctx, plan)
}

// LockPlan hardens an approved plan against supersession-free replacement.
func (m *Manager) LockPlan(ctx context.Context, planID string) error {
	if err := m.registry.Transition(planID, registry.StatusLocked); err != nil {
		return err
	}
	logging.Sacred("Plan %s locked", planID)
	return m.updateChunkStatus(ctx, planID, registry.StatusLocked)
}

// SupersedePlan retires oldID in favor of newID. The replacement must already
// have been approved, so a plan is never superseded by an unvetted draft.
// Both plans record the link in their metadata.
func (m *Manager) SupersedePlan(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return fmt.Errorf("a plan cannot supersede itself")
	}

	replacement, err := m.registry.Get(newID)
	if err != nil {
		return fmt.Errorf("replacement plan: %w", err)
	}
	if replacement.Status != registry.StatusApproved && replacement.Status != registry.StatusLocked {
		return fmt.Errorf("replacement plan %s is %s; must be approved or locked", newID, replacement.Status)
	}

	if err := m.registry.Transition(oldID, registry.StatusSuperseded); err != nil {
		return err
	}
	if err := m.registry.UpdateMetadata(oldID, map[string]string{"superseded_by": newID}); err != nil {
		return err
	}
	if err := m.registry.UpdateMetadata(newID, map[string]string{"supersedes": oldID}); err != nil {
		return err
	}

	logging.Sacred("Plan %s superseded by %s", oldID, newID)
	return m.updateChunkStatus(ctx, oldID, registry.StatusSuperseded)
}

// ArchivePlan retires a plan from any state.
func (m *Manager) ArchivePlan(ctx context.Context, planID string) error {
	plan, err := m.registry.Get(planID)
	if err != nil {
		return err
	}
	wasIndexed := plan.Status == registry.StatusApproved || plan.Status == registry.StatusLocked

	if err := m.registry.Transition(planID, registry.StatusArchived); err != nil {
		return err
	}
	logging.Sacred("Plan %s archived", planID)
	if wasIndexed {
		return m.updateChunkStatus(ctx, planID, registry.StatusArchived)
	}
	return nil
}

// GetPlan returns a plan after verifying its content hash.
func (m *Manager) GetPlan(planID string) (*registry.Plan, error) {
	return m.registry.Get(planID)
}

// ListPlans lists plan summaries, optionally filtered by project and status.
func (m *Manager) ListPlans(projectID string, status registry.PlanStatus) ([]registry.Summary, error) {
	return m.registry.List(projectID, status)
}

// GetStatistics reports plan counts by status and project.
func (m *Manager) GetStatistics() (*registry.Statistics, error) {
	return m.registry.Statistics()
}

// PlanMatch is one plan returned from a sacred query, with its full content
// reconstructed from the indexed chunks.
type PlanMatch struct {
	PlanID        string              `json:"plan_id"`
	Title         string              `json:"title"`
	Status        registry.PlanStatus `json:"status"`
	Similarity    float64             `json:"similarity"`
	MatchedChunk  string              `json:"matched_chunk"`
	Content       string              `json:"content"`
	Complete      bool                `json:"complete"`
	MissingChunks []int               `json:"missing_chunks,omitempty"`
}

// QueryResponse holds ranked plan matches. FilterFallback is set when the
// vector store could not apply its metadata filter and results were narrowed
// in Go instead of SQL.
type QueryResponse struct {
	Matches        []PlanMatch `json:"matches"`
	FilterFallback bool        `json:"filter_fallback"`
}

// QuerySacred searches the approved plans of a project. Draft, superseded,
// and archived plans never appear. Matched plans come back with their full
// content reconstructed chunk by chunk; an incomplete reconstruction is
// reported, not hidden.
func (m *Manager) QuerySacred(ctx context.Context, projectID, query string, topK int) (*QueryResponse, error) {
	if topK <= 0 {
		topK = 5
	}

	embedCtx, cancel := context.WithTimeout(ctx, m.cfg.GetEmbeddingTimeout())
	vec, err := m.engine.Embed(embedCtx, query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	coll, err := m.vectors.Collection(projectID)
	if err != nil {
		return nil, err
	}

	// Over-fetch at the chunk level so topK plans survive grouping.
	result, err := coll.Query(ctx, vec, topK*8, map[string]interface{}{"type": chunkType})
	if err != nil {
		return nil, err
	}

	type best struct {
		similarity float64
		chunk      string
	}
	bestByPlan := make(map[string]best)
	order := make([]string, 0)
	for _, match := range result.Matches {
		planID, ok := match.Metadata["plan_id"].(string)
		if !ok {
			continue
		}
		if _, seen := bestByPlan[planID]; !seen {
			order = append(order, planID)
			bestByPlan[planID] = best{similarity: match.Similarity, chunk: match.Text}
		}
	}

	resp := &QueryResponse{FilterFallback: result.FilterFallback}
	for _, planID := range order {
		if len(resp.Matches) >= topK {
			break
		}
		plan, err := m.registry.Get(planID)
		if err != nil {
			logging.SacredDebug("Query skipping plan %s: %v", planID, err)
			continue
		}
		if plan.Status != registry.StatusApproved && plan.Status != registry.StatusLocked {
			continue
		}

		reconstructed, err := m.reconstructPlan(ctx, coll, plan)
		if err != nil {
			return nil, err
		}

		b := bestByPlan[planID]
		resp.Matches = append(resp.Matches, PlanMatch{
			PlanID:        planID,
			Title:         plan.Title,
			Status:        plan.Status,
			Similarity:    b.similarity,
			MatchedChunk:  b.chunk,
			Content:       reconstructed.Content,
			Complete:      reconstructed.Complete,
			MissingChunks: reconstructed.MissingIndices,
		})
	}
	return resp, nil
}

// indexPlan embeds and upserts every chunk of a plan. Chunk IDs are stable
// (planID:index), so re-runs overwrite rather than duplicate.
func (m *Manager) indexPlan(ctx context.Context, plan *registry.Plan) error {
	coll, err := m.vectors.Collection(plan.ProjectID)
	if err != nil {
		return err
	}

	chunks := content.Chunk(plan.Content, m.cfg.Chunking.TargetSize)
	timer := logging.StartTimer(logging.CategorySacred, fmt.Sprintf("index %s (%d chunks)", plan.PlanID, len(chunks)))
	defer timer.Stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(indexWorkers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			embedCtx, cancel := context.WithTimeout(groupCtx, m.cfg.GetEmbeddingTimeout())
			vec, err := m.engine.Embed(embedCtx, chunk)
			cancel()
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			meta := map[string]interface{}{
				"type":         chunkType,
				"plan_id":      plan.PlanID,
				"project_id":   plan.ProjectID,
				"title":        plan.Title,
				"chunk_index":  i,
				"total_chunks": len(chunks),
				"status":       string(plan.Status),
				"locked":       true,
			}
			return coll.Upsert(groupCtx, fmt.Sprintf("%s:%d", plan.PlanID, i), vec, chunk, meta)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// A previous indexing with a larger chunk count leaves stale high-index
	// chunks behind; drop them so reconstruction sees one consistent set.
	existing, err := coll.Fetch(ctx, map[string]interface{}{"type": chunkType, "plan_id": plan.PlanID})
	if err != nil {
		return err
	}
	for _, stale := range existing {
		idx, ok := chunkIndex(stale.Metadata)
		if !ok || idx >= len(chunks) {
			if err := coll.Delete(ctx, stale.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateChunkStatus mirrors a registry status change onto indexed chunks.
func (m *Manager) updateChunkStatus(ctx context.Context, planID string, status registry.PlanStatus) error {
	plan, err := m.registry.Get(planID)
	if err != nil {
		return err
	}
	coll, err := m.vectors.Collection(plan.ProjectID)
	if err != nil {
		return err
	}
	chunks, err := coll.Fetch(ctx, map[string]interface{}{"type": chunkType, "plan_id": planID})
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := coll.UpdateMetadata(ctx, chunk.ID, map[string]interface{}{"status": string(status)}); err != nil {
			return err
		}
	}
	return nil
}

// reconstructPlan pulls every indexed chunk of a plan and reassembles the
// original content byte for byte. The expected total comes from the chunks'
// own total_chunks metadata, written at index time: the create-time chunk
// count can go stale when the chunking target changes before approval, and
// trusting it would truncate silently.
func (m *Manager) reconstructPlan(ctx context.Context, coll *vector.Collection, plan *registry.Plan) (content.ReconstructResult, error) {
	chunks, err := coll.Fetch(ctx, map[string]interface{}{"type": chunkType, "plan_id": plan.PlanID})
	if err != nil {
		return content.ReconstructResult{}, err
	}

	total := 0
	byIndex := make(map[int]string, len(chunks))
	for _, chunk := range chunks {
		idx, ok := chunkIndex(chunk.Metadata)
		if !ok {
			continue
		}
		byIndex[idx] = chunk.Text
		if n, ok := metaInt(chunk.Metadata, "total_chunks"); ok && n > total {
			total = n
		}
	}
	if total == 0 {
		total = plan.ChunkCount
	}
	return content.Reconstruct(byIndex, total), nil
}

// chunkIndex reads the chunk_index metadata value, which round-trips through
// JSON as a float64.
func chunkIndex(meta map[string]interface{}) (int, bool) {
	return metaInt(meta, "chunk_index")
}

// metaInt reads an integer metadata value. JSON round-trips turn ints into
// float64, so all three shapes show up in practice.
func metaInt(meta map[string]interface{}, key string) (int, bool) {
	switch v := meta[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
