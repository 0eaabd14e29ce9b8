package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lolcoach/coach-relay-go/internal/audit"
	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/repository"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

const issueAttempts = 3

type IssuedToken struct {
	Token       string    `json:"token"`
	UserID      string    `json:"userId"`
	RoomID      string    `json:"roomId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ExpiresIn   int64     `json:"expiresIn"`

	// SupersededHash identifies the token this one replaced, if any.
	// Connections still bound to it must be closed.
	SupersededHash string `json:"-"`
}

// TokenBroker issues and validates the bearer tokens local telemetry
// clients present on connect.
type TokenBroker struct {
	tokenRepo repository.TokenRepository
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenBroker(tokenRepo repository.TokenRepository, ttl time.Duration) *TokenBroker {
	return &TokenBroker{
		tokenRepo: tokenRepo,
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock replaces the broker's time source.
func (b *TokenBroker) WithClock(now func() time.Time) *TokenBroker {
	b.now = now
	return b
}

// Issue creates a token for (userID, roomID). A token previously issued
// for the same pair stops validating as soon as this returns.
func (b *TokenBroker) Issue(ctx context.Context, userID, roomID, displayName string) (*IssuedToken, error) {
	userID = strings.TrimSpace(userID)
	roomID = strings.TrimSpace(roomID)
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if roomID == "" {
		return nil, apperrors.MissingRequired("roomId")
	}

	token, tokenHash, err := b.generateUnique(ctx)
	if err != nil {
		return nil, err
	}

	issuedAt := b.now()
	stored, err := b.tokenRepo.Upsert(ctx, model.UpsertTokenParams{
		TokenHash:   tokenHash,
		UserID:      userID,
		RoomID:      roomID,
		DisplayName: displayName,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(b.ttl),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("upsert token: %w", err))
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTokenIssue,
		UserID:    userID,
		RoomID:    roomID,
		TokenHash: tokenHash,
	})

	return &IssuedToken{
		Token:          token,
		UserID:         stored.UserID,
		RoomID:         stored.RoomID,
		DisplayName:    stored.DisplayName,
		ExpiresAt:      stored.ExpiresAt,
		ExpiresIn:      int64(b.ttl.Seconds()),
		SupersededHash: stored.ReplacedHash,
	}, nil
}

func (b *TokenBroker) generateUnique(ctx context.Context) (string, string, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := util.GenerateToken()
		if err != nil {
			return "", "", apperrors.Internal("failed to generate token").WithCause(err)
		}
		tokenHash := util.HashToken(token)

		existing, err := b.tokenRepo.FindByHash(ctx, tokenHash)
		if err != nil {
			return "", "", apperrors.Database(fmt.Errorf("find token: %w", err))
		}
		if existing == nil {
			return token, tokenHash, nil
		}
		log.Warn().Int("attempt", attempt).Msg("generated token collides with a live token, retrying")
	}
	return "", "", apperrors.Internal("failed to generate a unique token")
}

// Validate resolves a presented token. It fails with TOKEN_UNKNOWN when
// the token was never issued, was superseded or revoked, and with
// TOKEN_EXPIRED once its 30 days have passed.
func (b *TokenBroker) Validate(ctx context.Context, token string) (*model.TokenIdentity, error) {
	if token == "" {
		return nil, apperrors.TokenUnknown()
	}

	stored, err := b.tokenRepo.FindByHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("find token: %w", err))
	}
	if stored == nil {
		return nil, apperrors.TokenUnknown()
	}
	if stored.ExpiredAt(b.now()) {
		return nil, apperrors.TokenExpired()
	}

	identity := stored.Identity()
	return &identity, nil
}

func (b *TokenBroker) Revoke(ctx context.Context, token string) error {
	tokenHash := util.HashToken(token)

	deleted, err := b.tokenRepo.DeleteByHash(ctx, tokenHash)
	if err != nil {
		return apperrors.Database(fmt.Errorf("delete token: %w", err))
	}
	if !deleted {
		return apperrors.TokenUnknown()
	}

	audit.Log(ctx, audit.Event{Type: audit.EventTokenRevoke, TokenHash: tokenHash})
	return nil
}

func (b *TokenBroker) DeleteExpired(ctx context.Context) (int64, error) {
	return b.tokenRepo.DeleteExpired(ctx)
}
