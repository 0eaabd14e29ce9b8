package repository

import (
	"context"
	"sync"
	"time"

	"github.com/lolcoach/coach-relay-go/internal/model"
)

type userRoomKey struct {
	userID string
	roomID string
}

type memoryTokenRepo struct {
	mu       sync.RWMutex
	byHash   map[string]*model.SessionToken
	byMember map[userRoomKey]string
	now      func() time.Time
}

// NewMemoryTokenRepository keeps tokens in process memory. Used when no
// DATABASE_URL is configured and in tests.
func NewMemoryTokenRepository(now func() time.Time) TokenRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryTokenRepo{
		byHash:   make(map[string]*model.SessionToken),
		byMember: make(map[userRoomKey]string),
		now:      now,
	}
}

func (r *memoryTokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.SessionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (r *memoryTokenRepo) Upsert(ctx context.Context, params model.UpsertTokenParams) (*model.SessionToken, error) {
	token := &model.SessionToken{
		TokenHash:   params.TokenHash,
		UserID:      params.UserID,
		RoomID:      params.RoomID,
		DisplayName: params.DisplayName,
		IssuedAt:    params.IssuedAt,
		ExpiresAt:   params.ExpiresAt,
	}
	key := userRoomKey{userID: params.UserID, roomID: params.RoomID}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, replaced := r.byMember[key]
	if replaced {
		delete(r.byHash, previous)
	}
	r.byHash[token.TokenHash] = token
	r.byMember[key] = token.TokenHash

	copied := *token
	if replaced && previous != token.TokenHash {
		copied.ReplacedHash = previous
	}
	return &copied, nil
}

func (r *memoryTokenRepo) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	delete(r.byHash, tokenHash)
	delete(r.byMember, userRoomKey{userID: token.UserID, roomID: token.RoomID})
	return true, nil
}

func (r *memoryTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for hash, token := range r.byHash {
		if token.ExpiredAt(now) {
			delete(r.byHash, hash)
			delete(r.byMember, userRoomKey{userID: token.UserID, roomID: token.RoomID})
			count++
		}
	}
	return count, nil
}
