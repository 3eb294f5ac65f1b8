package resolution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/inventory"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// SnapshotProvider supplies inventory snapshots (inventory.Cache in production).
type SnapshotProvider interface {
	Get(ctx context.Context, query models.InventoryQuery) (*inventory.Snapshot, error)
}

// RiskClassifier assigns a risk tier to an inventory entity (safety.Rules in production).
type RiskClassifier interface {
	Classify(e models.InventoryEntity) models.RiskTier
}

// Config tunes ranking and acceptance.
type Config struct {
	Timeout             time.Duration
	AmbiguityMargin     float64
	AcceptanceThreshold float64
	MaxCandidates       int
}

// DefaultConfig returns the default resolution settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		AmbiguityMargin:     0.05,
		AcceptanceThreshold: 0.4,
		MaxCandidates:       5,
	}
}

// Service resolves mentions against the live inventory.
type Service struct {
	inventory  SnapshotProvider
	embedder   Embedder
	classifier RiskClassifier
	cfg        Config
	logger     *zap.Logger
}

// NewService creates a resolution service. A nil embedder selects the local hashing embedder.
func NewService(inv SnapshotProvider, embedder Embedder, classifier RiskClassifier, cfg Config, logger *zap.Logger) *Service {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxCandidates < 1 {
		cfg.MaxCandidates = defaults.MaxCandidates
	}
	if cfg.AmbiguityMargin < 0 {
		cfg.AmbiguityMargin = defaults.AmbiguityMargin
	}
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}
	return &Service{
		inventory:  inv,
		embedder:   embedder,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger.Named("resolution"),
	}
}

// Request is a batch of mentions resolved against one snapshot.
type Request struct {
	Mentions         []string
	CurrentTurnAreas []string
	HistoryAreas     []string
}

// Result carries one Resolution per requested mention, in request order.
type Result struct {
	Resolutions     []models.Resolution `json:"resolutions"`
	SnapshotVersion uint64              `json:"snapshot_version"`
}

// Snapshot returns the current full-inventory snapshot. Failures surface as
// ResolutionUnavailable.
func (s *Service) Snapshot(ctx context.Context) (*inventory.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	snap, err := s.inventory.Get(ctx, models.InventoryQuery{})
	if err != nil {
		s.logger.Error("Inventory unavailable", zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindResolutionUnavailable, "the device inventory is unavailable right now", err)
	}
	return snap, nil
}

// Resolve resolves every mention in req against a single snapshot.
func (s *Service) Resolve(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	r := s.newRun(snap, req.CurrentTurnAreas, req.HistoryAreas)
	result := &Result{SnapshotVersion: snap.Version}
	for _, raw := range req.Mentions {
		res, err := r.resolve(ctx, raw)
		if err != nil {
			return nil, err
		}
		result.Resolutions = append(result.Resolutions, res)
	}
	return result, nil
}

// run holds per-snapshot state shared by every mention in one request.
type run struct {
	s        *Service
	snap     *inventory.Snapshot
	entities []models.InventoryEntity
	pos      positions
	mctx     MentionContext
	current  map[string]bool
	memo     map[string]models.Resolution
}

func (s *Service) newRun(snap *inventory.Snapshot, currentAreas, historyAreas []string) *run {
	entities := snap.Entities()
	current := make(map[string]bool, len(currentAreas))
	for _, a := range currentAreas {
		current[NormalizeText(a)] = true
	}
	return &run{
		s:        s,
		snap:     snap,
		entities: entities,
		pos:      computePositions(entities),
		mctx: MentionContext{
			CurrentTurnAreas: currentAreas,
			HistoryAreas:     historyAreas,
			KnownAreas:       snap.Areas(),
		},
		current: current,
		memo:    make(map[string]models.Resolution),
	}
}

type scored struct {
	entity models.InventoryEntity
	scores models.SignalScores
	total  float64
	inArea bool
}

func (r *run) resolve(ctx context.Context, raw string) (models.Resolution, error) {
	if res, ok := r.memo[raw]; ok {
		return res, nil
	}

	m := ParseMention(raw, r.mctx)
	if m.AreaFromCurrentTurn && m.AreaHint != "" {
		r.current[m.AreaHint] = true
	}
	res := models.Resolution{Mention: m, Candidates: []models.ResolvedEntity{}}

	candidates := r.filterByDomain(m)
	if len(candidates) == 0 {
		r.memo[raw] = res
		return res, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, m.Text)
	for _, e := range candidates {
		texts = append(texts, entityText(e))
	}
	vectors, err := r.s.embedder.Embed(ctx, texts)
	if err != nil {
		return res, apperrors.Wrap(apperrors.KindResolutionUnavailable, "entity matching is unavailable right now", err)
	}

	ord := newOrdinalScorer(m, r.pos, candidates)
	ranked := make([]scored, 0, len(candidates))
	for i, e := range candidates {
		signals := models.SignalScores{
			Semantic: cosine(vectors[0], vectors[i+1]),
			Exact:    exactScore(m, e),
			Fuzzy:    fuzzyScore(m, e),
			Ordinal:  ord.score(e),
			Location: locationScore(m, e),
		}
		total := combine(signals)
		if total <= 0 {
			continue
		}
		ranked = append(ranked, scored{
			entity: e,
			scores: signals,
			total:  total,
			inArea: r.current[NormalizeText(e.Area)],
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if a.inArea != b.inArea {
			return a.inArea
		}
		return a.entity.EntityID < b.entity.EntityID
	})
	if len(ranked) > r.s.cfg.MaxCandidates {
		ranked = ranked[:r.s.cfg.MaxCandidates]
	}

	for _, c := range ranked {
		res.Candidates = append(res.Candidates, r.toResolved(c.entity, c.total, c.scores, c.inArea))
	}
	if len(ranked) >= 2 && ranked[0].total-ranked[1].total < r.s.cfg.AmbiguityMargin {
		res.Ambiguous = true
	}
	res.Resolved = len(ranked) > 0 && !res.Ambiguous && ranked[0].total >= r.s.cfg.AcceptanceThreshold

	r.s.logger.Debug("Resolved mention",
		zap.String("mention", raw),
		zap.Int("ordinal", m.Ordinal),
		zap.String("area_hint", m.AreaHint),
		zap.Int("candidates", len(res.Candidates)),
		zap.Bool("ambiguous", res.Ambiguous),
		zap.Bool("resolved", res.Resolved))

	r.memo[raw] = res
	return res, nil
}

// filterByDomain narrows candidates to the mention's domain when the
// inventory has any entity in it; otherwise every entity stays a candidate.
func (r *run) filterByDomain(m models.EntityMention) []models.InventoryEntity {
	if m.DomainHint == "" {
		return r.entities
	}
	var out []models.InventoryEntity
	for _, e := range r.entities {
		if strings.EqualFold(e.Domain, m.DomainHint) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return r.entities
	}
	return out
}

func (r *run) toResolved(e models.InventoryEntity, confidence float64, signals models.SignalScores, inArea bool) models.ResolvedEntity {
	var tier models.RiskTier
	if r.s.classifier != nil {
		tier = r.s.classifier.Classify(e)
	}
	return models.ResolvedEntity{
		EntityID:          e.EntityID,
		FriendlyName:      e.FriendlyName,
		Area:              e.Area,
		Domain:            e.Domain,
		Confidence:        confidence,
		Signals:           signals,
		RiskTier:          tier,
		Verified:          r.snap.Contains(e.EntityID),
		SnapshotVersion:   r.snap.Version,
		InCurrentTurnArea: inArea,
	}
}

// DraftResolution is a draft built from a hint together with every mention resolution.
type DraftResolution struct {
	Draft           *models.AutomationDraft `json:"draft"`
	Resolutions     []models.Resolution     `json:"resolutions"`
	SnapshotVersion uint64                  `json:"snapshot_version"`
}

// ResolveDraft builds a draft from hint, replacing every free-text target with
// resolved entity ids and attaching the verified entities. Ambiguous or
// unresolved references return a clarification error alongside the partial result.
func (s *Service) ResolveDraft(ctx context.Context, hint *models.DraftHint) (*DraftResolution, error) {
	if hint == nil {
		return nil, apperrors.New(apperrors.KindInvalidIntent, "draft_hint is required")
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	r := s.newRun(snap, hint.CurrentTurnAreas, hint.HistoryAreas)
	out := &DraftResolution{SnapshotVersion: snap.Version}
	draft := &models.AutomationDraft{
		ID:          uuid.New(),
		Alias:       hint.Alias,
		Description: hint.Description,
		Mode:        hint.Mode,
	}

	var ambiguous, unresolved []string
	attached := make(map[string]bool)

	resolveTargets := func(targets, ids []string) ([]string, error) {
		var resolved []string
		add := func(e models.ResolvedEntity) {
			for _, id := range resolved {
				if id == e.EntityID {
					return
				}
			}
			resolved = append(resolved, e.EntityID)
			if !attached[e.EntityID] {
				attached[e.EntityID] = true
				draft.Entities = append(draft.Entities, e)
			}
		}

		for _, id := range ids {
			e, ok := snap.Entity(id)
			if !ok {
				unresolved = append(unresolved, fmt.Sprintf("no device with id %s", id))
				continue
			}
			add(r.toResolved(e, 1, models.SignalScores{Exact: 1}, r.current[NormalizeText(e.Area)]))
		}
		for _, target := range targets {
			res, err := r.resolve(ctx, target)
			if err != nil {
				return nil, err
			}
			out.Resolutions = append(out.Resolutions, res)
			switch best := res.Best(); {
			case best != nil:
				add(*best)
			case res.Ambiguous && len(res.Candidates) > 0 && res.Candidates[0].Confidence >= s.cfg.AcceptanceThreshold:
				ambiguous = append(ambiguous, clarification(target, res.Candidates))
			default:
				unresolved = append(unresolved, fmt.Sprintf("could not find a device matching %q", target))
			}
		}
		return resolved, nil
	}

	for _, t := range hint.Triggers {
		ids, err := resolveTargets(t.Targets, t.EntityIDs)
		if err != nil {
			return nil, err
		}
		t.EntityIDs = ids
		t.Targets = append([]string(nil), t.Targets...)
		draft.Triggers = append(draft.Triggers, t)
	}
	for _, c := range hint.Conditions {
		ids, err := resolveTargets(c.Targets, c.EntityIDs)
		if err != nil {
			return nil, err
		}
		c.EntityIDs = ids
		c.Targets = append([]string(nil), c.Targets...)
		draft.Conditions = append(draft.Conditions, c)
	}
	for _, a := range hint.Actions {
		ids, err := resolveTargets(a.Targets, a.EntityIDs)
		if err != nil {
			return nil, err
		}
		a.EntityIDs = ids
		a.Targets = append([]string(nil), a.Targets...)
		draft.Actions = append(draft.Actions, a)
	}
	out.Draft = draft

	switch {
	case len(ambiguous) > 0:
		return out, apperrors.New(apperrors.KindAmbiguousReference, strings.Join(ambiguous, "; "))
	case len(unresolved) > 0:
		return out, apperrors.New(apperrors.KindUnresolvedReference, strings.Join(unresolved, "; "))
	}
	return out, nil
}

func clarification(mention string, candidates []models.ResolvedEntity) string {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		name := c.FriendlyName
		if name == "" {
			name = c.EntityID
		}
		names = append(names, fmt.Sprintf("%s (%s)", name, c.EntityID))
	}
	return fmt.Sprintf("which device did you mean by %q: %s?", mention, strings.Join(names, ", "))
}
