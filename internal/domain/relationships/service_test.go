package relationships

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/domain/notification"
)

type recordingListener struct {
	mu         sync.Mutex
	reciprocal [][2]uuid.UUID
	broken     [][2]uuid.UUID
	blocked    [][2]uuid.UUID
	err        error
}

func (l *recordingListener) OnReciprocal(ctx context.Context, initiator, other uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reciprocal = append(l.reciprocal, [2]uuid.UUID{initiator, other})
	return l.err
}

func (l *recordingListener) OnReciprocityBroken(ctx context.Context, a, b uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broken = append(l.broken, [2]uuid.UUID{a, b})
	return nil
}

func (l *recordingListener) OnBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked = append(l.blocked, [2]uuid.UUID{blockerID, blockedID})
	return nil
}

func newTestService() (*Service, *recordingListener, *notification.Feed) {
	listener := &recordingListener{}
	feed := notification.NewFeed(notification.FeedConfig{})
	svc := NewService(NewMemoryRepository(), Config{
		Reciprocity:    listener,
		BlockListeners: []BlockListener{listener},
		Notifier:       feed,
	})
	return svc, listener, feed
}

func TestLike_RejectsSelf(t *testing.T) {
	svc, _, _ := newTestService()
	a := uuid.New()
	if _, err := svc.Like(context.Background(), a, a); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
}

func TestLike_AliceThenBob(t *testing.T) {
	svc, listener, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	completed, err := svc.Like(ctx, alice, bob)
	if err != nil || completed {
		t.Fatalf("expected no match on first like, got %v %v", completed, err)
	}
	completed, err = svc.Like(ctx, bob, alice)
	if err != nil || !completed {
		t.Fatalf("expected second like to complete the pair, got %v %v", completed, err)
	}

	if len(listener.reciprocal) != 1 || listener.reciprocal[0] != [2]uuid.UUID{bob, alice} {
		t.Fatalf("expected one reciprocal call initiated by bob, got %v", listener.reciprocal)
	}
	mutual, _ := svc.IsMutual(ctx, alice, bob)
	if !mutual {
		t.Fatal("expected pair to be mutual")
	}
}

func TestLike_IsIdempotent(t *testing.T) {
	svc, _, feed := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Like(ctx, alice, bob); err != nil {
			t.Fatalf("like: %v", err)
		}
	}

	given, _ := svc.LikesGiven(ctx, alice)
	if len(given) != 1 {
		t.Fatalf("expected one edge, got %d", len(given))
	}
	pending, _ := feed.Pending(ctx, bob)
	if len(pending) != 1 || pending[0].Type != notification.TypeLikeReceived {
		t.Fatalf("expected one like_received badge, got %+v", pending)
	}
}

func TestUnlikeThenLike_ReusesEdge(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, Config{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, alice, bob)
	first, _ := repo.GetLike(ctx, alice, bob)

	if err := svc.Unlike(ctx, alice, bob); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	edge, _ := repo.GetLike(ctx, alice, bob)
	if edge == nil || edge.Active {
		t.Fatalf("expected inactive edge to remain, got %+v", edge)
	}

	_, _ = svc.Like(ctx, alice, bob)
	edge, _ = repo.GetLike(ctx, alice, bob)
	if !edge.Active || !edge.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected reactivated original edge, got %+v", edge)
	}
	given, _ := svc.LikesGiven(ctx, alice)
	if len(given) != 1 {
		t.Fatalf("expected exactly one edge row, got %d", len(given))
	}
}

func TestUnlike_MissingEdgeIsNoop(t *testing.T) {
	svc, listener, _ := newTestService()
	if err := svc.Unlike(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(listener.broken) != 0 {
		t.Fatal("expected no reciprocity notification for a no-op unlike")
	}
}

func TestUnlike_BreaksReciprocity(t *testing.T) {
	svc, listener, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, alice, bob)
	_, _ = svc.Like(ctx, bob, alice)
	_ = svc.Unlike(ctx, alice, bob)

	if len(listener.broken) != 1 {
		t.Fatalf("expected one broken notification, got %d", len(listener.broken))
	}
	mutual, _ := svc.IsMutual(ctx, alice, bob)
	if mutual {
		t.Fatal("expected pair to no longer be mutual")
	}
}

func TestLike_ConcurrentReciprocalCompletesOnce(t *testing.T) {
	for run := 0; run < 50; run++ {
		svc, listener, _ := newTestService()
		alice, bob := uuid.New(), uuid.New()

		var wg sync.WaitGroup
		results := make([]bool, 2)
		for i, p := range [][2]uuid.UUID{{alice, bob}, {bob, alice}} {
			wg.Add(1)
			go func(i int, p [2]uuid.UUID) {
				defer wg.Done()
				results[i], _ = svc.Like(context.Background(), p[0], p[1])
			}(i, p)
		}
		wg.Wait()

		if results[0] == results[1] {
			t.Fatalf("run %d: expected exactly one like to complete the pair, got %v", run, results)
		}
		if len(listener.reciprocal) != 1 {
			t.Fatalf("run %d: expected one reciprocal call, got %d", run, len(listener.reciprocal))
		}
	}
}

func TestBlock_ShortCircuitsLikes(t *testing.T) {
	svc, listener, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, alice, bob)
	_, _ = svc.Like(ctx, bob, alice)

	if err := svc.BlockUser(ctx, alice, bob); err != nil {
		t.Fatalf("block: %v", err)
	}

	for _, pair := range [][2]uuid.UUID{{alice, bob}, {bob, alice}} {
		blocked, _ := svc.IsBlocked(ctx, pair[0], pair[1])
		if !blocked {
			t.Fatalf("expected IsBlocked(%v) to be true", pair)
		}
		if _, err := svc.Like(ctx, pair[0], pair[1]); !errors.Is(err, ErrBlockedRelationship) {
			t.Fatalf("expected ErrBlockedRelationship, got %v", err)
		}
	}

	mutual, _ := svc.IsMutual(ctx, alice, bob)
	if mutual {
		t.Fatal("blocked pair must not be mutual")
	}
	given, _ := svc.LikesGiven(ctx, bob)
	if len(given) != 0 {
		t.Fatalf("expected block to deactivate likes, got %d", len(given))
	}
	if len(listener.blocked) != 1 || len(listener.broken) != 1 {
		t.Fatalf("expected block and broken notifications, got %d/%d", len(listener.blocked), len(listener.broken))
	}
}

func TestBlock_IsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_ = svc.BlockUser(ctx, alice, bob)
	_ = svc.BlockUser(ctx, alice, bob)

	blocks, _ := svc.ListMyBlocks(ctx, alice)
	if len(blocks) != 1 {
		t.Fatalf("expected one block row, got %d", len(blocks))
	}
}

func TestUnblock_RestoresLikingButNotOldLikes(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, bob, alice)
	_ = svc.BlockUser(ctx, alice, bob)
	if err := svc.UnblockUser(ctx, alice, bob); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if err := svc.UnblockUser(ctx, alice, bob); err != nil {
		t.Fatalf("second unblock should be a no-op, got %v", err)
	}

	blocked, _ := svc.IsBlocked(ctx, alice, bob)
	if blocked {
		t.Fatal("expected pair to be unblocked")
	}
	completed, err := svc.Like(ctx, alice, bob)
	if err != nil || completed {
		t.Fatalf("expected plain like without match, got %v %v", completed, err)
	}
}

func TestUnblock_OnlyRemovesOwnDirection(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_ = svc.BlockUser(ctx, alice, bob)
	_ = svc.BlockUser(ctx, bob, alice)
	_ = svc.UnblockUser(ctx, alice, bob)

	blocked, _ := svc.IsBlocked(ctx, alice, bob)
	if !blocked {
		t.Fatal("bob's block must still apply")
	}
}

func TestLikesReceived_HidesBlockedLikers(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, bob, alice)
	_, _ = svc.Like(ctx, carol, alice)
	_ = svc.BlockUser(ctx, alice, bob)

	received, _ := svc.LikesReceived(ctx, alice)
	if len(received) != 1 || received[0].LikerID != carol {
		t.Fatalf("expected only carol's like, got %+v", received)
	}
}

func TestLike_ListenerFailureDoesNotFailLike(t *testing.T) {
	svc, listener, _ := newTestService()
	listener.err = errors.New("conversation store down")
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, _ = svc.Like(ctx, alice, bob)
	completed, err := svc.Like(ctx, bob, alice)
	if err != nil || !completed {
		t.Fatalf("expected like to succeed despite listener failure, got %v %v", completed, err)
	}
}
