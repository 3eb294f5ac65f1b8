// Package preview holds the per-conversation preview-and-approval state
// machine: Drafting → PendingPreview → {Approved, Rejected, Edited},
// Approved → Created, Edited → Drafting and Created → Created on redeploy.
package preview

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Config tunes preview expiry.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns a 30 minute preview window swept every minute.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, SweepInterval: time.Minute}
}

// Record is one conversation's state. It is only ever touched inside Store.Do.
type Record struct {
	ConversationID string                   `json:"conversation_id"`
	State          models.ConversationState `json:"state"`
	Preview        *models.PendingPreview   `json:"preview,omitempty"`
	// Approved is the preview whose registry write is in progress.
	Approved *models.PendingPreview `json:"-"`
	// LastDraft is the most recent draft, kept as the base for edits.
	LastDraft  *models.AutomationDraft `json:"-"`
	CreatedIDs []string                `json:"created_ids,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`

	ttl time.Duration
	now func() time.Time
}

// Propose enters PendingPreview with draft, evicting any prior preview.
func (r *Record) Propose(turnID string, draft *models.AutomationDraft, report *models.ValidationReport) *models.PendingPreview {
	now := r.now()
	p := &models.PendingPreview{
		ProposalID:     uuid.New(),
		ConversationID: r.ConversationID,
		TurnID:         turnID,
		Draft:          draft,
		Report:         report,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
	}
	r.Preview = p
	r.Approved = nil
	r.LastDraft = draft
	r.transition(models.StatePendingPreview)
	return p
}

// Approve moves the live preview to Approved. proposalID, when not uuid.Nil,
// must match the live preview.
func (r *Record) Approve(proposalID uuid.UUID) (*models.PendingPreview, error) {
	p, err := r.live(proposalID, "approve")
	if err != nil {
		return nil, err
	}
	r.Preview = nil
	r.Approved = p
	r.transition(models.StateApproved)
	return p, nil
}

// Restore puts an approved preview back after a failed registry write so the
// user can retry explicitly.
func (r *Record) Restore() {
	if r.Approved == nil {
		return
	}
	r.Preview = r.Approved
	r.Approved = nil
	r.transition(models.StatePendingPreview)
}

// MarkCreated records a successful registry write. Redeploys land here too.
func (r *Record) MarkCreated(automationID string) {
	r.Approved = nil
	r.Preview = nil
	found := false
	for _, id := range r.CreatedIDs {
		if id == automationID {
			found = true
			break
		}
	}
	if !found {
		r.CreatedIDs = append(r.CreatedIDs, automationID)
	}
	r.transition(models.StateCreated)
}

// Reject discards the live preview.
func (r *Record) Reject(proposalID uuid.UUID) (*models.PendingPreview, error) {
	p, err := r.live(proposalID, "reject")
	if err != nil {
		return nil, err
	}
	r.Preview = nil
	r.transition(models.StateRejected)
	return p, nil
}

// Edit discards the live preview (if any) and returns to Drafting. The
// returned draft is the base for the revision; it is nil when nothing was drafted yet.
func (r *Record) Edit() *models.AutomationDraft {
	base := r.LastDraft
	if r.Preview != nil {
		base = r.Preview.Draft
		r.Preview = nil
	}
	r.transition(models.StateEdited)
	r.transition(models.StateDrafting)
	if base == nil {
		return nil
	}
	return base.Clone()
}

func (r *Record) live(proposalID uuid.UUID, verb string) (*models.PendingPreview, error) {
	if r.Preview == nil {
		return nil, apperrors.New(apperrors.KindStaleApproval, "there is no pending preview to "+verb+"; propose the automation again")
	}
	if proposalID != uuid.Nil && proposalID != r.Preview.ProposalID {
		return nil, apperrors.New(apperrors.KindStaleApproval, "the preview you are answering has been replaced; review the latest preview")
	}
	return r.Preview, nil
}

// expire drops a preview that outlived its window.
func (r *Record) expire() bool {
	if r.Preview == nil || !r.Preview.Expired(r.now()) {
		return false
	}
	r.Preview = nil
	r.transition(models.StateDrafting)
	return true
}

func (r *Record) transition(to models.ConversationState) {
	r.State = to
	r.UpdatedAt = r.now()
}

func (r *Record) snapshot() Record {
	c := *r
	c.CreatedIDs = append([]string(nil), r.CreatedIDs...)
	return c
}

type entry struct {
	mu      sync.Mutex
	rec     *Record
	removed bool
}

// Store indexes conversation records by conversation id. Transitions for one
// conversation are serialized; different conversations proceed in parallel.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

// NewStore creates an empty store.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	return &Store{
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("preview"),
	}
}

func (s *Store) entry(conversationID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[conversationID]
	if !ok {
		e = &entry{rec: &Record{
			ConversationID: conversationID,
			State:          models.StateDrafting,
			UpdatedAt:      s.now(),
			ttl:            s.cfg.TTL,
			now:            s.now,
		}}
		s.entries[conversationID] = e
	}
	return e
}

// lock returns the conversation's entry, locked. An entry swept away while
// the caller waited is never handed out.
func (s *Store) lock(conversationID string) *entry {
	for {
		e := s.entry(conversationID)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// Do runs fn with exclusive access to the conversation's record. Expired
// previews are dropped before fn sees the record.
func (s *Store) Do(conversationID string, fn func(r *Record) error) error {
	e := s.lock(conversationID)
	defer e.mu.Unlock()

	if e.rec.expire() {
		s.logger.Info("Pending preview expired",
			zap.String("conversation_id", conversationID))
	}
	return fn(e.rec)
}

// Get returns a copy of the conversation's record.
func (s *Store) Get(conversationID string) (Record, bool) {
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	s.mu.Unlock()
	if !ok {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.expire()
	return e.rec.snapshot(), true
}

// Conversations returns the tracked conversation ids, sorted.
func (s *Store) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep expires stale previews and forgets idle conversations that hold
// nothing worth keeping. It returns the number of previews expired.
func (s *Store) Sweep() int {
	s.mu.Lock()
	entries := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	s.mu.Unlock()

	expired := 0
	for id, e := range entries {
		e.mu.Lock()
		if e.rec.expire() {
			expired++
		}
		idle := e.rec.Preview == nil && e.rec.Approved == nil && len(e.rec.CreatedIDs) == 0 &&
			s.now().Sub(e.rec.UpdatedAt) > s.cfg.TTL
		if idle {
			s.mu.Lock()
			if s.entries[id] == e {
				delete(s.entries, id)
				e.removed = true
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
	}
	if expired > 0 {
		s.logger.Info("Expired pending previews", zap.Int("count", expired))
	}
	return expired
}

// RunJanitor sweeps the store until ctx is cancelled.
func (s *Store) RunJanitor(ctx context.Context) {
	go func() {
		s.logger.Info("Preview janitor started", zap.Duration("interval", s.cfg.SweepInterval))

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Preview janitor stopped")
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
