package handlers

import (
	"errors"
	"testing"
	"time"

	"github.com/tariel-x/tutorlive/internal/models"
)

func newTestCallStore(t *testing.T) *CallStore {
	t.Helper()
	store := NewCallStore(30 * time.Minute)
	t.Cleanup(store.Close)
	return store
}

func TestOfferGeneratesUniqueIDs(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_000_000, 0)

	first, err := store.Offer("u1", "t1", "r1", "video", base)
	if err != nil {
		t.Fatalf("first offer failed: %v", err)
	}
	second, err := store.Offer("u2", "t2", "r2", "video", base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("second offer failed: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("expected unique call IDs, got duplicate %s", first.ID)
	}
	if first.Status != models.CallStatusRinging {
		t.Fatalf("new offer should be ringing, got %s", first.Status)
	}
}

func TestOfferSupersedesRingingAttemptForSamePair(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_050_000, 0)

	first, _ := store.Offer("u1", "t1", "r1", "video", base)
	second, _ := store.Offer("t1", "u1", "r1", "video", base.Add(time.Second))

	got, err := store.GetByID(first.ID, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("get first failed: %v", err)
	}
	if got.Status != models.CallStatusEnded || got.Reason != "superseded" {
		t.Fatalf("expected first attempt superseded, got %s/%q", got.Status, got.Reason)
	}

	ringing := store.ListByStatus(models.CallStatusRinging, 0, base.Add(2*time.Second))
	if len(ringing) != 1 || ringing[0].ID != second.ID {
		t.Fatalf("expected only the second attempt ringing, got %+v", ringing)
	}
}

func TestListByStatusTracksUpdates(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_200_000, 0)

	callA, _ := store.Offer("u1", "t1", "r1", "video", base)
	callB, _ := store.Offer("u2", "t2", "r2", "video", base.Add(time.Second))

	ringing := store.ListByStatus(models.CallStatusRinging, 0, base.Add(2*time.Second))
	if len(ringing) != 2 {
		t.Fatalf("expected 2 ringing calls, got %d", len(ringing))
	}

	accepted, ok := store.Accept("u1", "t1", "r1", base.Add(3*time.Second))
	if !ok || accepted.ID != callA.ID {
		t.Fatalf("expected callA accepted, got %+v (ok=%v)", accepted, ok)
	}

	ringing = store.ListByStatus(models.CallStatusRinging, 0, base.Add(4*time.Second))
	if len(ringing) != 1 || ringing[0].ID != callB.ID {
		t.Fatalf("expected only callB ringing, got %+v", ringing)
	}

	active := store.ListByStatus(models.CallStatusActive, 0, base.Add(4*time.Second))
	if len(active) != 1 || active[0].ID != callA.ID {
		t.Fatalf("expected callA active, got %+v", active)
	}

	limited := store.ListByStatus(models.CallStatusRinging, 1, base.Add(4*time.Second))
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestAcceptWithoutOfferIsNotRecorded(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_250_000, 0)

	if _, ok := store.Accept("u1", "t1", "r1", base); ok {
		t.Fatalf("accept without a ringing attempt should report false")
	}

	store.Offer("u1", "t1", "other-room", "video", base)
	if _, ok := store.Accept("u1", "t1", "r1", base); ok {
		t.Fatalf("accept must match the room")
	}
}

func TestEndAllForAndExpiry(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_300_000, 0)

	call, _ := store.Offer("u1", "t1", "r1", "video", base)
	other, _ := store.Offer("u2", "t2", "r2", "video", base)

	if n := store.EndAllFor("t1", "disconnected", base.Add(time.Second)); n != 1 {
		t.Fatalf("expected 1 attempt ended, got %d", n)
	}
	if n := store.EndAllFor("t1", "disconnected", base.Add(time.Second)); n != 0 {
		t.Fatalf("ending twice should be a no-op, got %d", n)
	}

	got, err := store.GetByID(call.ID, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("ended call should stay readable until TTL, got %v", err)
	}
	if got.Status != models.CallStatusEnded || got.Reason != "disconnected" {
		t.Fatalf("unexpected ended call %+v", got)
	}
	if got, _ := store.GetByID(other.ID, base.Add(2*time.Second)); got.Status != models.CallStatusRinging {
		t.Fatalf("unrelated call should stay ringing, got %s", got.Status)
	}

	store.callTTL = time.Millisecond
	created := base.Add(3 * time.Second)
	short, _ := store.Offer("u3", "t3", "r3", "video", created)
	if _, err := store.GetByID(short.ID, created.Add(500*time.Microsecond)); err != nil {
		t.Fatalf("call should be available before TTL, got %v", err)
	}
	if _, err := store.GetByID(short.ID, created.Add(2*time.Millisecond)); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound after ttl, got %v", err)
	}
}

func TestEndBetweenMatchesEitherDirection(t *testing.T) {
	store := newTestCallStore(t)
	base := time.Unix(1_700_400_000, 0)

	call, _ := store.Offer("u1", "t1", "r1", "video", base)
	store.Accept("u1", "t1", "r1", base.Add(time.Second))

	if n := store.EndBetween("t1", "u1", "rejected", base.Add(2*time.Second)); n != 1 {
		t.Fatalf("expected active attempt ended, got %d", n)
	}
	got, _ := store.GetByID(call.ID, base.Add(3*time.Second))
	if got.Status != models.CallStatusEnded {
		t.Fatalf("expected ended, got %s", got.Status)
	}

	if _, err := store.End("missing", "x", base); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}
