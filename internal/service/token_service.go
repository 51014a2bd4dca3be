package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
)

const unknownTokenNamespace = "refresh_token.unknown"

// RefreshTokenService issues and redeems opaque refresh secrets. Redemption
// resolves the stored row through an indexed keyed digest of the secret, then
// checks the slow bcrypt verifier, so lookup cost stays constant as the live
// token set grows.
type RefreshTokenService struct {
	tokenRepo     repository.RefreshTokenRepository
	hasher        *security.TokenHasher
	negativeCache NegativeLookupCacheStore
	negativeTTL   time.Duration
	usedRetention time.Duration
}

func NewRefreshTokenService(tokenRepo repository.RefreshTokenRepository, hasher *security.TokenHasher, negativeCache NegativeLookupCacheStore, negativeTTL, usedRetention time.Duration) *RefreshTokenService {
	if negativeCache == nil {
		negativeCache = NewNoopNegativeLookupCacheStore()
	}
	return &RefreshTokenService{
		tokenRepo:     tokenRepo,
		hasher:        hasher,
		negativeCache: negativeCache,
		negativeTTL:   negativeTTL,
		usedRetention: usedRetention,
	}
}

// IssueResult carries the plaintext secret exactly once; it is never stored.
type IssueResult struct {
	Token  *domain.RefreshToken
	Secret string
}

// Issue mints a fresh opaque secret for the user and stores its digest and
// verifier. Pass an empty secret to have one generated.
func (s *RefreshTokenService) Issue(ctx context.Context, userID, secret string, ttl time.Duration, clientID, scope *string) (*IssueResult, error) {
	if userID == "" {
		return nil, fault.InvalidState("refresh token requires a user id")
	}
	if ttl <= 0 {
		return nil, fault.InvalidState("refresh token ttl must be positive")
	}
	if secret == "" {
		var err error
		secret, err = security.NewOpaqueSecret()
		if err != nil {
			return nil, fault.Wrap(fault.KindTransient, "generate refresh secret", err)
		}
	}
	verifier, err := s.hasher.Verifier(secret)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "hash refresh secret", err)
	}
	token := &domain.RefreshToken{
		ID:           uuid.NewString(),
		UserID:       userID,
		LookupDigest: s.hasher.LookupDigest(secret),
		TokenHash:    verifier,
		ClientID:     clientID,
		Scope:        scope,
		ExpiresAt:    time.Now().UTC().Add(ttl),
	}
	if err := s.tokenRepo.Create(token); err != nil {
		observability.RecordRefreshTokenEvent("issue", "error")
		return nil, fault.Wrap(fault.KindTransient, "store refresh token", err)
	}
	// The digest may sit in the negative cache from a redeem attempt that
	// predates this issue; clear it so the new token redeems immediately.
	_ = s.negativeCache.Invalidate(ctx, unknownTokenNamespace, token.LookupDigest)
	observability.RecordRefreshTokenEvent("issue", "success")
	return &IssueResult{Token: token, Secret: secret}, nil
}

// Redeem exchanges the secret for its token exactly once. Losers of a
// concurrent race observe the token as already used.
func (s *RefreshTokenService) Redeem(ctx context.Context, secret string) (*domain.RefreshToken, error) {
	if secret == "" {
		observability.RecordRefreshTokenEvent("redeem", "auth_failure")
		return nil, fault.AuthFailure("empty refresh secret")
	}
	digest := s.hasher.LookupDigest(secret)

	// Unknown digests are remembered briefly so hammering with garbage
	// secrets does not reach the database every time.
	if hit, err := s.negativeCache.Get(ctx, unknownTokenNamespace, digest); err == nil && hit {
		observability.RecordRefreshTokenEvent("redeem", "not_found")
		return nil, fault.NotFound("refresh token not found")
	}

	token, err := s.tokenRepo.FindByLookupDigest(digest)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			_ = s.negativeCache.Set(ctx, unknownTokenNamespace, digest, s.negativeTTL)
			observability.RecordRefreshTokenEvent("redeem", "not_found")
			return nil, fault.NotFound("refresh token not found")
		}
		return nil, fault.Wrap(fault.KindTransient, "lookup refresh token", err)
	}

	now := time.Now().UTC()
	switch {
	case token.IsUsed:
		// A known secret arriving after redemption is a reuse signal.
		observability.RecordRefreshTokenEvent("redeem", "reuse_detected")
		observability.Audit(ctx, "refresh_token_reuse", "token_id", token.ID, "user_id", token.UserID)
		return nil, fault.InvalidState("refresh token already redeemed")
	case token.IsRevoked:
		observability.RecordRefreshTokenEvent("redeem", "revoked")
		return nil, fault.InvalidState("refresh token revoked")
	case !now.Before(token.ExpiresAt):
		observability.RecordRefreshTokenEvent("redeem", "expired")
		return nil, fault.InvalidState("refresh token expired")
	}

	if !s.hasher.Matches(secret, token.TokenHash) {
		observability.RecordRefreshTokenEvent("redeem", "auth_failure")
		observability.Audit(ctx, "refresh_token_verifier_mismatch", "token_id", token.ID)
		return nil, fault.AuthFailure("refresh secret does not match stored verifier")
	}

	redeemed, err := s.tokenRepo.Redeem(token.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyUsed) {
			observability.RecordRefreshTokenEvent("redeem", "reuse_detected")
			observability.Audit(ctx, "refresh_token_reuse", "token_id", token.ID, "user_id", token.UserID)
			return nil, fault.InvalidState("refresh token already redeemed")
		}
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, fault.NotFound("refresh token not found")
		}
		return nil, fault.Wrap(fault.KindTransient, "redeem refresh token", err)
	}
	observability.RecordRefreshTokenEvent("redeem", "success")
	return redeemed, nil
}

func (s *RefreshTokenService) Revoke(id string) error {
	if err := s.tokenRepo.Revoke(id); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return fault.NotFound("refresh token not found")
		}
		return fault.Wrap(fault.KindTransient, "revoke refresh token", err)
	}
	observability.RecordRefreshTokenEvent("revoke", "success")
	return nil
}

func (s *RefreshTokenService) RevokeAll(userID string) (int64, error) {
	n, err := s.tokenRepo.RevokeAllForUser(userID)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "revoke refresh tokens", err)
	}
	observability.RecordRefreshTokenEvent("revoke_all", "success")
	return n, nil
}

// Cleanup deletes expired tokens and used tokens older than the retention
// window. Called by the maintenance scheduler.
func (s *RefreshTokenService) Cleanup() (int64, error) {
	n, err := s.tokenRepo.Cleanup(s.usedRetention)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "cleanup refresh tokens", err)
	}
	return n, nil
}
