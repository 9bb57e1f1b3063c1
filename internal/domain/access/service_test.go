package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/domain/notification"
	"github.com/mwork/consent-engine/internal/domain/relationships"
	"github.com/mwork/consent-engine/internal/pkg/apperr"
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

type fakeBlocks struct {
	mu      sync.Mutex
	blocked map[[2]uuid.UUID]bool
}

func (f *fakeBlocks) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[[2]uuid.UUID{a, b}] || f.blocked[[2]uuid.UUID{b, a}], nil
}

func (f *fakeBlocks) block(a, b uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked == nil {
		f.blocked = make(map[[2]uuid.UUID]bool)
	}
	f.blocked[[2]uuid.UUID{a, b}] = true
}

type fixture struct {
	svc    *Service
	clock  *fakeClock
	blocks *fakeBlocks
	feed   *notification.Feed
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	blocks := &fakeBlocks{}
	feed := notification.NewFeed(notification.FeedConfig{Now: clock.Now})
	svc := NewService(NewMemoryRepository(), blocks, Config{Notifier: feed, Now: clock.Now})
	return &fixture{svc: svc, clock: clock, blocks: blocks, feed: feed}
}

func (f *fixture) pendingOfType(t *testing.T, userID uuid.UUID, typ notification.Type) []*notification.Record {
	t.Helper()
	pending, err := f.feed.Pending(context.Background(), userID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var out []*notification.Record
	for _, r := range pending {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestRequest_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := uuid.New()

	if _, err := f.svc.Request(ctx, alice, alice, ""); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
	if _, err := f.svc.Request(ctx, alice, uuid.New(), strings.Repeat("x", 1001)); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	bob := uuid.New()
	f.blocks.block(bob, alice)
	if _, err := f.svc.Request(ctx, alice, bob, "hi"); !errors.Is(err, ErrBlockedRelationship) {
		t.Fatalf("expected ErrBlockedRelationship, got %v", err)
	}
}

func TestRequest_IsIdempotentWhilePending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first, err := f.svc.Request(ctx, alice, bob, "hi")
	if err != nil || !first.Created {
		t.Fatalf("expected created request, got %+v %v", first, err)
	}
	second, err := f.svc.Request(ctx, alice, bob, "again")
	if err != nil || second.Created {
		t.Fatalf("expected existing request, got %+v %v", second, err)
	}
	if second.Request.ID != first.Request.ID || second.Request.Message != "hi" {
		t.Fatalf("expected unchanged request, got %+v", second.Request)
	}
	if n := len(f.pendingOfType(t, bob, notification.TypeAccessRequested)); n != 1 {
		t.Fatalf("expected one access_requested, got %d", n)
	}
}

func TestRequest_ConcurrentDuplicatesCollapse(t *testing.T) {
	f := newFixture()
	alice, bob := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Request(context.Background(), alice, bob, "hi")
			if err == nil && res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one created request, got %d", created)
	}
	outgoing, _ := f.svc.ListOutgoing(context.Background(), alice)
	if len(outgoing) != 1 {
		t.Fatalf("expected one row, got %d", len(outgoing))
	}
}

func TestGrant_ExpiresAfterWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	res, _ := f.svc.Request(ctx, alice, bob, "may I see your gallery?")
	granted, err := f.svc.Grant(ctx, bob, res.Request.ID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if granted.ExpiresAt == nil || !granted.ExpiresAt.Equal(granted.GrantedAt.Add(72*time.Hour)) {
		t.Fatalf("expected 72h window, got %+v", granted)
	}

	if ok, _ := f.svc.HasAccess(ctx, alice, bob); !ok {
		t.Fatal("expected access right after grant")
	}
	if ok, _ := f.svc.HasAccess(ctx, bob, alice); ok {
		t.Fatal("access must be directional")
	}

	f.clock.Advance(72 * time.Hour)
	if ok, _ := f.svc.HasAccess(ctx, alice, bob); !ok {
		t.Fatal("expected access at exactly expiresAt")
	}

	f.clock.Advance(time.Second)
	if ok, _ := f.svc.HasAccess(ctx, alice, bob); ok {
		t.Fatal("expected no access after expiresAt")
	}
	stored, _ := f.svc.Get(ctx, res.Request.ID)
	if stored.Status != StatusGranted || f.svc.EffectiveStatus(stored) != StatusExpired {
		t.Fatalf("expected lazily expired grant, got stored=%s effective=%s", stored.Status, f.svc.EffectiveStatus(stored))
	}

	if _, err := f.svc.Revoke(ctx, bob, res.Request.ID, ""); !errors.Is(err, ErrExpiredGrant) {
		t.Fatalf("expected ErrExpiredGrant, got %v", err)
	}
}

func TestRequest_ReopensClosedRequest(t *testing.T) {
	tests := []struct {
		name  string
		close func(f *fixture, actor, id uuid.UUID)
	}{
		{name: "denied", close: func(f *fixture, actor, id uuid.UUID) { _, _ = f.svc.Deny(context.Background(), actor, id, "no") }},
		{name: "revoked", close: func(f *fixture, actor, id uuid.UUID) {
			_, _ = f.svc.Grant(context.Background(), actor, id)
			_, _ = f.svc.Revoke(context.Background(), actor, id, "changed my mind")
		}},
		{name: "expired", close: func(f *fixture, actor, id uuid.UUID) {
			_, _ = f.svc.Grant(context.Background(), actor, id)
			f.clock.Advance(DefaultGrantTTL + time.Second)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			alice, bob := uuid.New(), uuid.New()

			first, _ := f.svc.Request(ctx, alice, bob, "first")
			tc.close(f, bob, first.Request.ID)

			again, err := f.svc.Request(ctx, alice, bob, "second")
			if err != nil || !again.Created {
				t.Fatalf("expected reopened request, got %+v %v", again, err)
			}
			req := again.Request
			if req.ID != first.Request.ID || req.Revision != 2 || req.Status != StatusPending {
				t.Fatalf("expected same row at revision 2, got %+v", req)
			}
			if req.Message != "second" || req.Reason != "" || req.GrantedAt != nil || req.ExpiresAt != nil {
				t.Fatalf("expected fields reset, got %+v", req)
			}
			if n := len(f.pendingOfType(t, bob, notification.TypeAccessRequested)); n != 2 {
				t.Fatalf("expected one access_requested per revision, got %d", n)
			}
		})
	}
}

func TestRequest_GrantedBlocksNewRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	res, _ := f.svc.Request(ctx, alice, bob, "")
	_, _ = f.svc.Grant(ctx, bob, res.Request.ID)

	again, err := f.svc.Request(ctx, alice, bob, "")
	if err != nil || again.Created || again.Request.Status != StatusGranted {
		t.Fatalf("expected existing grant, got %+v %v", again, err)
	}
}

func TestTransitions_GuardOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	res, _ := f.svc.Request(ctx, alice, bob, "")
	id := res.Request.ID

	if _, err := f.svc.Grant(ctx, bob, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Grant(ctx, mallory, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Grant(ctx, alice, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("requester cannot grant their own request, got %v", err)
	}
	if _, err := f.svc.Revoke(ctx, bob, id, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for revoke of pending, got %v", err)
	}

	f.blocks.block(alice, bob)
	if _, err := f.svc.Grant(ctx, mallory, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("authorization is checked before the block, got %v", err)
	}
	if _, err := f.svc.Grant(ctx, bob, id); !errors.Is(err, ErrBlockedRelationship) {
		t.Fatalf("expected ErrBlockedRelationship, got %v", err)
	}
}

func TestTransitions_InvalidLeavesStateUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	res, _ := f.svc.Request(ctx, alice, bob, "")
	id := res.Request.ID

	if _, err := f.svc.Deny(ctx, bob, id, "not now"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	for name, call := range map[string]func() error{
		"grant":  func() error { _, err := f.svc.Grant(ctx, bob, id); return err },
		"deny":   func() error { _, err := f.svc.Deny(ctx, bob, id, "again"); return err },
		"revoke": func() error { _, err := f.svc.Revoke(ctx, bob, id, ""); return err },
	} {
		if err := call(); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", name, err)
		}
	}

	stored, _ := f.svc.Get(ctx, id)
	if stored.Status != StatusDenied || stored.Reason != "not now" {
		t.Fatalf("expected untouched denied request, got %+v", stored)
	}
}

func TestTransitions_ConcurrentGrantAndDeny(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	res, _ := f.svc.Request(ctx, alice, bob, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.svc.Grant(ctx, bob, res.Request.ID) }()
	go func() { defer wg.Done(); _, errs[1] = f.svc.Deny(ctx, bob, res.Request.ID, "") }()
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("unexpected error %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one transition to win, got errors %v", errs)
	}
	if n := len(f.pendingOfType(t, alice, notification.TypeAccessResolved)); n != 1 {
		t.Fatalf("expected one access_resolved, got %d", n)
	}
}

func TestRevoke_NotifiesRequester(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	res, _ := f.svc.Request(ctx, alice, bob, "")
	_, _ = f.svc.Grant(ctx, bob, res.Request.ID)

	revoked, err := f.svc.Revoke(ctx, bob, res.Request.ID, "privacy")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != StatusRevoked || revoked.Reason != "privacy" {
		t.Fatalf("unexpected request %+v", revoked)
	}
	if ok, _ := f.svc.HasAccess(ctx, alice, bob); ok {
		t.Fatal("expected no access after revoke")
	}

	records := f.pendingOfType(t, alice, notification.TypeAccessRevoked)
	if len(records) != 1 {
		t.Fatalf("expected one access_revoked, got %d", len(records))
	}
	if records[0].EventID != res.Request.ID.String()+":1" {
		t.Fatalf("unexpected event id %s", records[0].EventID)
	}
	if data := records[0].GetData(); data == nil || data.Reason != "privacy" {
		t.Fatalf("expected reason in payload, got %+v", data)
	}
}

func TestHasAccess_FalseWhenBlocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	res, _ := f.svc.Request(ctx, alice, bob, "")
	_, _ = f.svc.Grant(ctx, bob, res.Request.ID)

	// The block is visible at read time before any void has run.
	f.blocks.block(alice, bob)
	if ok, _ := f.svc.HasAccess(ctx, alice, bob); ok {
		t.Fatal("expected block to hide the grant")
	}
}

func TestListIncoming(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice, bob, carol, dave := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	_, _ = f.svc.Request(ctx, alice, bob, "")
	res, _ := f.svc.Request(ctx, carol, bob, "")
	_, _ = f.svc.Request(ctx, dave, bob, "")
	_, _ = f.svc.Grant(ctx, bob, res.Request.ID)
	f.blocks.block(bob, dave)

	incoming, err := f.svc.ListIncoming(ctx, bob)
	if err != nil {
		t.Fatalf("list incoming: %v", err)
	}
	if len(incoming) != 1 || incoming[0].RequesterID != alice {
		t.Fatalf("expected only alice's pending request, got %+v", incoming)
	}
}

func TestBlock_VoidsRequestsBothWays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	feed := notification.NewFeed(notification.FeedConfig{Now: clock.Now})
	graph := relationships.NewService(relationships.NewMemoryRepository(), relationships.Config{Now: clock.Now})
	svc := NewService(NewMemoryRepository(), graph, Config{Notifier: feed, Now: clock.Now})
	graph.AddBlockListener(svc)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	pending, _ := svc.Request(ctx, bob, alice, "please")
	granted, _ := svc.Request(ctx, alice, bob, "")
	_, _ = svc.Grant(ctx, bob, granted.Request.ID)

	if err := graph.BlockUser(ctx, alice, bob); err != nil {
		t.Fatalf("block: %v", err)
	}

	voidedPending, _ := svc.Get(ctx, pending.Request.ID)
	if voidedPending.Status != StatusDenied || voidedPending.Reason != ReasonBlocked {
		t.Fatalf("expected pending request denied by block, got %+v", voidedPending)
	}
	voidedGrant, _ := svc.Get(ctx, granted.Request.ID)
	if voidedGrant.Status != StatusRevoked || voidedGrant.Reason != ReasonBlocked {
		t.Fatalf("expected grant revoked by block, got %+v", voidedGrant)
	}

	for _, pair := range [][2]uuid.UUID{{alice, bob}, {bob, alice}} {
		if ok, _ := svc.HasAccess(ctx, pair[0], pair[1]); ok {
			t.Fatalf("expected no access for %v", pair)
		}
	}

	if _, err := svc.Grant(ctx, alice, pending.Request.ID); !errors.Is(err, ErrBlockedRelationship) {
		t.Fatalf("expected ErrBlockedRelationship on grant, got %v", err)
	}
	if _, err := svc.Deny(ctx, alice, pending.Request.ID, ""); !errors.Is(err, ErrBlockedRelationship) {
		t.Fatalf("expected ErrBlockedRelationship on deny, got %v", err)
	}
	if _, err := svc.Request(ctx, bob, alice, "again"); !errors.Is(err, ErrBlockedRelationship) {
		t.Fatalf("expected ErrBlockedRelationship on re-request, got %v", err)
	}

	// Voids are silent.
	records, _ := feed.Pending(ctx, bob)
	for _, r := range records {
		if r.Type == notification.TypeAccessResolved || r.Type == notification.TypeAccessRevoked {
			t.Fatalf("blocked member must not be told about the void, got %s", r.Type)
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	tests := []struct {
		name string
		req  Request
		at   time.Time
		want Status
	}{
		{name: "pending", req: Request{Status: StatusPending}, at: now, want: StatusPending},
		{name: "granted inside window", req: Request{Status: StatusGranted, ExpiresAt: &expires}, at: now, want: StatusGranted},
		{name: "granted at expiry", req: Request{Status: StatusGranted, ExpiresAt: &expires}, at: expires, want: StatusGranted},
		{name: "granted past expiry", req: Request{Status: StatusGranted, ExpiresAt: &expires}, at: expires.Add(time.Nanosecond), want: StatusExpired},
		{name: "revoked", req: Request{Status: StatusRevoked, ExpiresAt: &expires}, at: expires.Add(time.Hour), want: StatusRevoked},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.req.EffectiveStatus(tc.at); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
