package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"
)

type memoryRefreshRecord struct {
	userID    string
	expiresAt time.Time
}

type memoryChallenge struct {
	digest    string
	attempts  int
	expiresAt time.Time
}

// memorySweepInterval acota cada cuánto los Put* recorren los mapas buscando expirados.
const memorySweepInterval = time.Minute

type memoryOAuthState struct {
	verifier  string
	expiresAt time.Time
}

type memorySessionCache struct {
	mu          sync.Mutex
	maxAttempts int
	now         func() time.Time
	refresh     map[string]memoryRefreshRecord
	byUser      map[string]map[string]struct{}
	challenges  map[string]memoryChallenge
	states      map[string]memoryOAuthState
	lastSweep   time.Time
}

// NewMemorySessionCache crea una caché en memoria para un solo proceso.
func NewMemorySessionCache(maxAttempts int) SessionCache {
	if maxAttempts <= 0 {
		maxAttempts = defaultChallengeAttempts
	}
	return &memorySessionCache{
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		refresh:     make(map[string]memoryRefreshRecord),
		byUser:      make(map[string]map[string]struct{}),
		challenges:  make(map[string]memoryChallenge),
		states:      make(map[string]memoryOAuthState),
	}
}

func (s *memorySessionCache) PutRefreshRecord(_ context.Context, tokenID, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil
	}
	s.refresh[tokenID] = memoryRefreshRecord{userID: userID, expiresAt: s.now().Add(ttl)}
	ids, ok := s.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[userID] = ids
	}
	ids[tokenID] = struct{}{}
	return nil
}

func (s *memorySessionCache) IsRefreshValid(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.liveRecord(tokenID)
	return ok, nil
}

func (s *memorySessionCache) ConsumeRefresh(_ context.Context, tokenID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.liveRecord(tokenID)
	if !ok {
		return "", false, nil
	}
	s.deleteRecord(tokenID, rec.userID)
	return rec.userID, true, nil
}

func (s *memorySessionCache) Revoke(ctx context.Context, tokenID string) error {
	_, _, err := s.ConsumeRefresh(ctx, tokenID)
	return err
}

func (s *memorySessionCache) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byUser[userID] {
		delete(s.refresh, id)
	}
	delete(s.byUser, userID)
	return nil
}

func (s *memorySessionCache) PutChallenge(_ context.Context, userID, codeDigest string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.challenges[userID] = memoryChallenge{digest: codeDigest, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memorySessionCache) DeleteChallenge(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, userID)
	return nil
}

func (s *memorySessionCache) CheckChallenge(_ context.Context, userID, codeDigest string) (ChallengeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[userID]
	if !ok {
		return ChallengeExpired, nil
	}
	if !s.now().Before(ch.expiresAt) {
		delete(s.challenges, userID)
		return ChallengeExpired, nil
	}
	if subtle.ConstantTimeCompare([]byte(ch.digest), []byte(codeDigest)) == 1 {
		delete(s.challenges, userID)
		return ChallengeValid, nil
	}
	ch.attempts++
	if ch.attempts >= s.maxAttempts {
		delete(s.challenges, userID)
		return ChallengeAttemptsExhausted, nil
	}
	s.challenges[userID] = ch
	return ChallengeInvalid, nil
}

func (s *memorySessionCache) PutOAuthState(_ context.Context, nonce, verifier string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.states[nonce] = memoryOAuthState{verifier: verifier, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memorySessionCache) ConsumeOAuthState(_ context.Context, nonce string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[nonce]
	if !ok {
		return "", false, nil
	}
	delete(s.states, nonce)
	if !s.now().Before(st.expiresAt) {
		return "", false, nil
	}
	return st.verifier, true, nil
}

func (s *memorySessionCache) liveRecord(tokenID string) (memoryRefreshRecord, bool) {
	rec, ok := s.refresh[tokenID]
	if !ok {
		return memoryRefreshRecord{}, false
	}
	if !s.now().Before(rec.expiresAt) {
		s.deleteRecord(tokenID, rec.userID)
		return memoryRefreshRecord{}, false
	}
	return rec, true
}

func (s *memorySessionCache) deleteRecord(tokenID, userID string) {
	delete(s.refresh, tokenID)
	if ids, ok := s.byUser[userID]; ok {
		delete(ids, tokenID)
		if len(ids) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// sweepLocked elimina lo expirado que nadie volvió a consultar.
func (s *memorySessionCache) sweepLocked() {
	now := s.now()
	if now.Sub(s.lastSweep) < memorySweepInterval {
		return
	}
	s.lastSweep = now
	for id, rec := range s.refresh {
		if !now.Before(rec.expiresAt) {
			s.deleteRecord(id, rec.userID)
		}
	}
	for userID, ch := range s.challenges {
		if !now.Before(ch.expiresAt) {
			delete(s.challenges, userID)
		}
	}
	for nonce, st := range s.states {
		if !now.Before(st.expiresAt) {
			delete(s.states, nonce)
		}
	}
}
