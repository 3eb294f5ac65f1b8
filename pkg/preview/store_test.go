package preview

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	store := NewStore(Config{TTL: 30 * time.Minute, SweepInterval: time.Minute}, zap.NewNop())
	store.now = clock.Now
	return store, clock
}

func draftNamed(alias string) *models.AutomationDraft {
	return &models.AutomationDraft{ID: uuid.New(), Alias: alias}
}

func propose(t *testing.T, s *Store, conv, alias string) *models.PendingPreview {
	t.Helper()
	var p *models.PendingPreview
	require.NoError(t, s.Do(conv, func(r *Record) error {
		p = r.Propose("turn-1", draftNamed(alias), nil)
		return nil
	}))
	return p
}

func TestStore_NewConversationStartsDrafting(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Do("c1", func(r *Record) error {
		assert.Equal(t, models.StateDrafting, r.State)
		assert.Nil(t, r.Preview)
		return nil
	}))
}

func TestStore_ProposeReplacesPriorPreview(t *testing.T) {
	store, clock := newTestStore(t)

	first := propose(t, store, "c1", "Porch Light Routine")
	second := propose(t, store, "c1", "Porch Light Routine v2")

	rec, ok := store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, models.StatePendingPreview, rec.State)
	require.NotNil(t, rec.Preview)
	assert.Equal(t, second.ProposalID, rec.Preview.ProposalID)
	assert.NotEqual(t, first.ProposalID, second.ProposalID)
	assert.Equal(t, clock.Now().Add(30*time.Minute), second.ExpiresAt)

	err := store.Do("c1", func(r *Record) error {
		_, err := r.Approve(first.ProposalID)
		return err
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindStaleApproval))

	rec, _ = store.Get("c1")
	assert.Equal(t, models.StatePendingPreview, rec.State, "stale approval leaves the live preview alone")
}

func TestRecord_ApproveAndCreate(t *testing.T) {
	store, _ := newTestStore(t)
	p := propose(t, store, "c1", "Porch Light Routine")

	require.NoError(t, store.Do("c1", func(r *Record) error {
		approved, err := r.Approve(p.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, p, approved)
		assert.Equal(t, models.StateApproved, r.State)
		assert.Nil(t, r.Preview)

		r.MarkCreated("porch_light_routine_20261018T090000Z_0a1b2c3d")
		return nil
	}))

	rec, _ := store.Get("c1")
	assert.Equal(t, models.StateCreated, rec.State)
	assert.Equal(t, []string{"porch_light_routine_20261018T090000Z_0a1b2c3d"}, rec.CreatedIDs)

	// A second approval has no live preview to consume.
	err := store.Do("c1", func(r *Record) error {
		_, err := r.Approve(uuid.Nil)
		return err
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindStaleApproval))
}

func TestRecord_ApproveWithoutProposalIDUsesLivePreview(t *testing.T) {
	store, _ := newTestStore(t)
	p := propose(t, store, "c1", "Night Lights")

	require.NoError(t, store.Do("c1", func(r *Record) error {
		approved, err := r.Approve(uuid.Nil)
		require.NoError(t, err)
		assert.Equal(t, p.ProposalID, approved.ProposalID)
		return nil
	}))
}

func TestRecord_RestoreAfterFailedWrite(t *testing.T) {
	store, _ := newTestStore(t)
	p := propose(t, store, "c1", "Porch Light Routine")

	require.NoError(t, store.Do("c1", func(r *Record) error {
		_, err := r.Approve(p.ProposalID)
		require.NoError(t, err)
		r.Restore()
		return nil
	}))

	rec, _ := store.Get("c1")
	assert.Equal(t, models.StatePendingPreview, rec.State)
	require.NotNil(t, rec.Preview)
	assert.Equal(t, p.ProposalID, rec.Preview.ProposalID)
	assert.Empty(t, rec.CreatedIDs)
}

func TestRecord_Reject(t *testing.T) {
	store, _ := newTestStore(t)
	p := propose(t, store, "c1", "Porch Light Routine")

	require.NoError(t, store.Do("c1", func(r *Record) error {
		rejected, err := r.Reject(p.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, p.ProposalID, rejected.ProposalID)
		return nil
	}))

	rec, _ := store.Get("c1")
	assert.Equal(t, models.StateRejected, rec.State)
	assert.Nil(t, rec.Preview)

	err := store.Do("c1", func(r *Record) error {
		_, err := r.Reject(uuid.Nil)
		return err
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindStaleApproval))
}

func TestRecord_EditReturnsToDrafting(t *testing.T) {
	store, _ := newTestStore(t)
	p := propose(t, store, "c1", "Porch Light Routine")

	require.NoError(t, store.Do("c1", func(r *Record) error {
		base := r.Edit()
		require.NotNil(t, base)
		assert.Equal(t, p.Draft.Alias, base.Alias)
		assert.NotSame(t, p.Draft, base)
		assert.Equal(t, models.StateDrafting, r.State)
		assert.Nil(t, r.Preview)
		return nil
	}))

	require.NoError(t, store.Do("fresh", func(r *Record) error {
		assert.Nil(t, r.Edit())
		return nil
	}))
}

func TestStore_PreviewExpires(t *testing.T) {
	store, clock := newTestStore(t)
	p := propose(t, store, "c1", "Porch Light Routine")

	clock.Advance(29 * time.Minute)
	rec, _ := store.Get("c1")
	require.NotNil(t, rec.Preview)

	clock.Advance(time.Minute)
	err := store.Do("c1", func(r *Record) error {
		assert.Equal(t, models.StateDrafting, r.State)
		assert.Nil(t, r.Preview)
		_, err := r.Approve(p.ProposalID)
		return err
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindStaleApproval), "expired previews are never approved")
}

func TestStore_Sweep(t *testing.T) {
	store, clock := newTestStore(t)
	propose(t, store, "expiring", "A")
	propose(t, store, "created", "B")
	require.NoError(t, store.Do("created", func(r *Record) error {
		_, err := r.Approve(uuid.Nil)
		r.MarkCreated("b_1")
		return err
	}))
	require.NoError(t, store.Do("idle", func(r *Record) error { return nil }))

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, store.Sweep())

	rec, ok := store.Get("expiring")
	require.True(t, ok, "just expired, not idle yet")
	assert.Equal(t, models.StateDrafting, rec.State)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 0, store.Sweep())
	assert.Equal(t, []string{"created"}, store.Conversations())

	// A forgotten conversation starts over.
	require.NoError(t, store.Do("idle", func(r *Record) error {
		assert.Equal(t, models.StateDrafting, r.State)
		return nil
	}))
}

func TestStore_AtMostOnePendingPreviewUnderConcurrency(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Do("c1", func(r *Record) error {
				r.Propose(fmt.Sprintf("turn-%d", i), draftNamed(fmt.Sprintf("draft %d", i)), nil)
				return nil
			})
		}(i)
	}
	wg.Wait()

	rec, _ := store.Get("c1")
	require.NotNil(t, rec.Preview)
	assert.Equal(t, models.StatePendingPreview, rec.State)

	// Exactly one of many racing approvals wins.
	var approved sync.Map
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Do("c1", func(r *Record) error {
				if _, err := r.Approve(uuid.Nil); err != nil {
					return err
				}
				approved.Store(i, true)
				return nil
			})
		}(i)
	}
	wg.Wait()

	count := 0
	approved.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count)
}

func TestStore_ConversationsAreIndependent(t *testing.T) {
	store, _ := newTestStore(t)
	a := propose(t, store, "a", "Same Alias")
	b := propose(t, store, "b", "Same Alias")

	recA, _ := store.Get("a")
	recB, _ := store.Get("b")
	assert.Equal(t, a.ProposalID, recA.Preview.ProposalID)
	assert.Equal(t, b.ProposalID, recB.Preview.ProposalID)
}
