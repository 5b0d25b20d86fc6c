package handlers

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tariel-x/tutorlive/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrCallNotFound = errors.New("call not found")

// CallStore is an observational log of call attempts. Signaling never consults it
// to decide whether an event is forwarded; entries only record what happened.
type CallStore struct {
	mu              sync.Mutex
	calls           map[string]*models.CallAttempt
	statusIndex     map[models.CallStatus]map[string]struct{}
	callTTL         time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewCallStore(ttl time.Duration) *CallStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &CallStore{
		calls: make(map[string]*models.CallAttempt),
		statusIndex: map[models.CallStatus]map[string]struct{}{
			models.CallStatusRinging: {},
			models.CallStatusActive:  {},
			models.CallStatusEnded:   {},
		},
		callTTL:         ttl,
		cleanupInterval: ttl,
		stop:            make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Offer records a new ringing attempt from caller to callee. A still ringing attempt
// between the same pair is ended as superseded, so the log holds at most one per pair.
func (s *CallStore) Offer(caller, callee, roomID, callType string, now time.Time) (*models.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}

	for prevID := range s.statusIndex[models.CallStatusRinging] {
		if prev := s.calls[prevID]; prev != nil && prev.SamePair(caller, callee) {
			s.markEndedLocked(prev, "superseded", now)
		}
	}

	call := &models.CallAttempt{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		RoomID:    roomID,
		CallType:  callType,
		Status:    models.CallStatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.callTTL),
	}
	s.calls[id] = call
	s.syncStatusIndexLocked(id, call.Status)

	snapshot := *call
	return &snapshot, nil
}

// Accept marks the newest ringing attempt between the pair in roomID as active.
// It returns false when no such attempt was recorded.
func (s *CallStore) Accept(caller, callee, roomID string, now time.Time) (*models.CallAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.CallAttempt
	for id := range s.statusIndex[models.CallStatusRinging] {
		call := s.calls[id]
		if call == nil || !call.SamePair(caller, callee) || call.RoomID != roomID {
			continue
		}
		if latest == nil || call.CreatedAt.After(latest.CreatedAt) {
			latest = call
		}
	}
	if latest == nil {
		return nil, false
	}

	latest.Status = models.CallStatusActive
	latest.UpdatedAt = now
	latest.ExpiresAt = now.Add(s.callTTL)
	s.syncStatusIndexLocked(latest.ID, latest.Status)

	snapshot := *latest
	return &snapshot, true
}

// End marks a single attempt as ended.
func (s *CallStore) End(callID, reason string, now time.Time) (*models.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.loadCallLocked(callID, now)
	if err != nil {
		return nil, err
	}
	if call.Status != models.CallStatusEnded {
		s.markEndedLocked(call, reason, now)
	}
	snapshot := *call
	return &snapshot, nil
}

// EndBetween ends every open attempt between a and b and returns how many changed.
func (s *CallStore) EndBetween(a, b, reason string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endMatchingLocked(func(call *models.CallAttempt) bool {
		return call.SamePair(a, b)
	}, reason, now)
}

// EndAllFor ends every open attempt involving userID.
func (s *CallStore) EndAllFor(userID, reason string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endMatchingLocked(func(call *models.CallAttempt) bool {
		return call.Involves(userID)
	}, reason, now)
}

func (s *CallStore) GetByID(callID string, now time.Time) (*models.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.loadCallLocked(callID, now)
	if err != nil {
		return nil, err
	}
	snapshot := *call
	return &snapshot, nil
}

func (s *CallStore) ListByStatus(status models.CallStatus, limit int, now time.Time) []models.CallAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpiredLocked(now)

	bucket := s.statusIndex[status]
	if len(bucket) == 0 {
		return nil
	}

	calls := make([]models.CallAttempt, 0, len(bucket))
	for id := range bucket {
		if call, exists := s.calls[id]; exists {
			calls = append(calls, *call)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].CreatedAt.Equal(calls[j].CreatedAt) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].CreatedAt.Before(calls[j].CreatedAt)
	})

	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls
}

// Close stops the background cleanup.
func (s *CallStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *CallStore) endMatchingLocked(match func(*models.CallAttempt) bool, reason string, now time.Time) int {
	ended := 0
	for _, status := range []models.CallStatus{models.CallStatusRinging, models.CallStatusActive} {
		for id := range s.statusIndex[status] {
			call := s.calls[id]
			if call == nil || !match(call) {
				continue
			}
			s.markEndedLocked(call, reason, now)
			ended++
		}
	}
	return ended
}

func (s *CallStore) loadCallLocked(callID string, now time.Time) (*models.CallAttempt, error) {
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	if now.After(call.ExpiresAt) {
		s.removeCallLocked(callID)
		return nil, ErrCallNotFound
	}
	return call, nil
}

func (s *CallStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.cleanupExpiredLocked(time.Now())
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *CallStore) cleanupExpiredLocked(now time.Time) {
	for id, call := range s.calls {
		if now.After(call.ExpiresAt) {
			s.removeCallLocked(id)
		}
	}
}

// markEndedLocked keeps the attempt listable until its TTL runs out.
func (s *CallStore) markEndedLocked(call *models.CallAttempt, reason string, now time.Time) {
	call.Status = models.CallStatusEnded
	call.Reason = reason
	call.UpdatedAt = now
	call.ExpiresAt = now.Add(s.callTTL)
	s.syncStatusIndexLocked(call.ID, call.Status)
}

func (s *CallStore) removeCallLocked(callID string) {
	delete(s.calls, callID)
	s.untrackStatusLocked(callID)
}

func (s *CallStore) syncStatusIndexLocked(callID string, status models.CallStatus) {
	s.untrackStatusLocked(callID)
	if bucket, ok := s.statusIndex[status]; ok {
		bucket[callID] = struct{}{}
	}
}

func (s *CallStore) untrackStatusLocked(callID string) {
	for _, bucket := range s.statusIndex {
		delete(bucket, callID)
	}
}
