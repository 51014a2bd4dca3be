package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
)

// WebAuthnAssertionPayload is the JSON a controller forwards as the "code"
// for a WEBAUTHN verify: the credential id plus the base64-encoded
// authenticator response fields.
type WebAuthnAssertionPayload struct {
	CredentialID      string `json:"credential_id"`
	AuthenticatorData string `json:"authenticator_data"`
	ClientDataJSON    string `json:"client_data_json"`
	Signature         string `json:"signature"`
}

// MfaCoordinator drives the second-factor challenge state machine. Transitions
// are monotonic: COMPLETED and CANCELLED are terminal, FAILED is re-enterable,
// and EXPIRED is decided lazily at verify time. The coordinator tracks
// attemptCount but enforces no lockout threshold; a max-attempts policy is the
// caller's concern.
type MfaCoordinator struct {
	methodRepo   repository.MfaMethodRepository
	mfaRepo      repository.MfaSessionRepository
	backupRepo   repository.BackupCodeRepository
	webauthnRepo repository.WebAuthnCredentialRepository
	sessions     *SessionManager
	totp         *security.TOTPManager
	sender       ChallengeSender
	approver     PushApprover
	throttle     *AuthAbuseGuard
	codeDigits   int
}

func NewMfaCoordinator(
	methodRepo repository.MfaMethodRepository,
	mfaRepo repository.MfaSessionRepository,
	backupRepo repository.BackupCodeRepository,
	webauthnRepo repository.WebAuthnCredentialRepository,
	sessions *SessionManager,
	totp *security.TOTPManager,
	sender ChallengeSender,
	approver PushApprover,
	throttle *AuthAbuseGuard,
) *MfaCoordinator {
	return &MfaCoordinator{
		methodRepo:   methodRepo,
		mfaRepo:      mfaRepo,
		backupRepo:   backupRepo,
		webauthnRepo: webauthnRepo,
		sessions:     sessions,
		totp:         totp,
		sender:       sender,
		approver:     approver,
		throttle:     throttle,
		codeDigits:   6,
	}
}

// Start opens a challenge for the session. For delivery-based methods
// (SMS/EMAIL) a fresh code is generated, hashed into the MfaSession, and
// handed to the sender; for PUSH the approver is asked to raise a prompt.
// A nil methodID means the user will answer with a recovery code.
func (c *MfaCoordinator) Start(ctx context.Context, userID, sessionID string, methodID *string, ttl time.Duration, challengeID *string) (*domain.MfaSession, error) {
	if ttl <= 0 {
		return nil, fault.InvalidState("mfa session ttl must be positive")
	}
	var method *domain.MfaMethod
	if methodID != nil {
		var err error
		method, err = c.methodRepo.FindByID(*methodID)
		if err != nil {
			if errors.Is(err, repository.ErrMfaMethodNotFound) {
				return nil, fault.NotFound("mfa method not found")
			}
			return nil, fault.Wrap(fault.KindTransient, "load mfa method", err)
		}
		if method.UserID != userID {
			return nil, fault.AuthFailure("mfa method does not belong to user")
		}
		if method.Status == domain.MfaMethodRevoked || method.Status == domain.MfaMethodInactive {
			return nil, fault.InvalidState("mfa method is not usable")
		}
	}

	session := &domain.MfaSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		MethodID:    methodID,
		Status:      domain.MfaSessionPending,
		ChallengeID: challengeID,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	if err := c.mfaRepo.Create(session); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "create mfa session", err)
	}

	if method != nil {
		if err := c.dispatchChallenge(ctx, session, method); err != nil {
			return nil, err
		}
	}
	observability.RecordMfaEvent("start", "success")
	return session, nil
}

func (c *MfaCoordinator) dispatchChallenge(ctx context.Context, session *domain.MfaSession, method *domain.MfaMethod) error {
	switch method.Type {
	case domain.MfaMethodSMS, domain.MfaMethodEmail:
		if c.sender == nil {
			return fault.InvalidState("no challenge sender configured")
		}
		if err := c.reserveSend(ctx, method); err != nil {
			return err
		}
		code, err := security.NewChallengeCode(c.codeDigits)
		if err != nil {
			return fault.Wrap(fault.KindTransient, "generate challenge code", err)
		}
		hash, err := security.HashChallengeCode(code)
		if err != nil {
			return fault.Wrap(fault.KindTransient, "hash challenge code", err)
		}
		challengeID := uuid.NewString()
		if err := c.mfaRepo.SetChallenge(session.ID, challengeID, hash); err != nil {
			return fault.Wrap(fault.KindTransient, "store challenge", err)
		}
		session.ChallengeID = &challengeID
		session.ChallengeHash = &hash
		if method.Type == domain.MfaMethodSMS {
			if method.PhoneNumber == nil {
				return fault.InvalidState("sms method has no phone number")
			}
			if err := c.sender.SendSMS(ctx, *method.PhoneNumber, code); err != nil {
				return fault.Wrap(fault.KindTransient, "send sms challenge", err)
			}
		} else {
			if err := c.sender.SendEmail(ctx, method.UserID, code); err != nil {
				return fault.Wrap(fault.KindTransient, "send email challenge", err)
			}
		}
	case domain.MfaMethodPush:
		if c.approver == nil {
			return fault.InvalidState("no push approver configured")
		}
		if err := c.reserveSend(ctx, method); err != nil {
			return err
		}
		challengeID := uuid.NewString()
		if session.ChallengeID != nil {
			challengeID = *session.ChallengeID
		}
		if err := c.mfaRepo.SetChallenge(session.ID, challengeID, ""); err != nil {
			return fault.Wrap(fault.KindTransient, "store challenge", err)
		}
		session.ChallengeID = &challengeID
		if err := c.approver.RequestApproval(ctx, method.UserID, challengeID); err != nil {
			return fault.Wrap(fault.KindTransient, "request push approval", err)
		}
	}
	return nil
}

// reserveSend throttles challenge delivery per user and channel. Verification
// attempts are never throttled here.
func (c *MfaCoordinator) reserveSend(ctx context.Context, method *domain.MfaMethod) error {
	if c.throttle == nil {
		return nil
	}
	cooldown, err := c.throttle.Check(ctx, AuthAbuseScopeChallengeSend, method.UserID, string(method.Type))
	if err != nil {
		return fault.Wrap(fault.KindTransient, "check send throttle", err)
	}
	if cooldown > 0 {
		observability.RecordMfaEvent("challenge_send", "throttled")
		return fault.Transient("challenge delivery throttled", nil)
	}
	if _, err := c.throttle.RegisterFailure(ctx, AuthAbuseScopeChallengeSend, method.UserID, string(method.Type)); err != nil {
		return fault.Wrap(fault.KindTransient, "register send", err)
	}
	return nil
}

// Verify checks the presented code and advances the state machine. Wrong
// codes report (false, nil) after recording a FAILED transition; terminal or
// expired sessions are rejected without mutation of the terminal state.
func (c *MfaCoordinator) Verify(ctx context.Context, mfaSessionID, code string) (bool, error) {
	session, err := c.mfaRepo.FindByID(mfaSessionID)
	if err != nil {
		if errors.Is(err, repository.ErrMfaSessionNotFound) {
			return false, fault.NotFound("mfa session not found")
		}
		return false, fault.Wrap(fault.KindTransient, "load mfa session", err)
	}
	if session.Status.Terminal() {
		return false, fault.InvalidState("mfa session already " + string(session.Status))
	}
	if session.Status == domain.MfaSessionExpired {
		return false, fault.InvalidState("mfa session expired")
	}
	now := time.Now().UTC()
	if !now.Before(session.ExpiresAt) {
		// Expiry is decided lazily at verify time.
		_, _ = c.mfaRepo.SetStatus(session.ID, domain.MfaSessionExpired,
			[]domain.MfaSessionStatus{domain.MfaSessionPending, domain.MfaSessionFailed})
		observability.RecordMfaEvent("verify", "expired")
		return false, fault.InvalidState("mfa session expired")
	}

	ok, err := c.dispatchVerify(ctx, session, code, now)
	if err != nil {
		return false, err
	}
	if !ok {
		if err := c.recordFailure(session.ID); err != nil {
			return false, err
		}
		observability.RecordMfaEvent("verify", "failure")
		observability.Audit(ctx, "mfa_verify_failed",
			"mfa_session_id", session.ID, "user_id", session.UserID,
			"attempt", session.AttemptCount+1)
		return false, nil
	}

	done, err := c.mfaRepo.Complete(session.ID, now)
	if err != nil {
		return false, fault.Wrap(fault.KindTransient, "complete mfa session", err)
	}
	if !done {
		// A concurrent verify or cancel won the transition.
		return false, fault.InvalidState("mfa session no longer verifiable")
	}
	c.activateMethod(session)
	if c.sessions != nil && session.SessionID != "" {
		_ = c.sessions.MarkMfaComplete(session.SessionID)
	}
	observability.RecordMfaEvent("verify", "success")
	return true, nil
}

func (c *MfaCoordinator) dispatchVerify(ctx context.Context, session *domain.MfaSession, code string, now time.Time) (bool, error) {
	if session.MethodID == nil {
		return c.verifyBackupCode(session.UserID, code, now)
	}
	method, err := c.methodRepo.FindByID(*session.MethodID)
	if err != nil {
		if errors.Is(err, repository.ErrMfaMethodNotFound) {
			return false, fault.NotFound("mfa method not found")
		}
		return false, fault.Wrap(fault.KindTransient, "load mfa method", err)
	}

	switch method.Type {
	case domain.MfaMethodTOTP:
		ok, err := c.totp.VerifyCode(method.Secret, code, now)
		if err != nil {
			return false, fault.Wrap(fault.KindTransient, "verify totp code", err)
		}
		return ok, nil
	case domain.MfaMethodSMS, domain.MfaMethodEmail:
		if session.ChallengeHash == nil || *session.ChallengeHash == "" {
			return false, fault.InvalidState("no challenge was delivered for this session")
		}
		return security.MatchChallengeCode(code, *session.ChallengeHash), nil
	case domain.MfaMethodPush:
		if c.approver == nil {
			return false, fault.InvalidState("no push approver configured")
		}
		if session.ChallengeID == nil {
			return false, fault.InvalidState("no push challenge was raised for this session")
		}
		approved, err := c.approver.CheckApproval(ctx, *session.ChallengeID)
		if err != nil {
			return false, fault.Wrap(fault.KindTransient, "check push approval", err)
		}
		return approved, nil
	case domain.MfaMethodRecoveryCodes:
		return c.verifyBackupCode(session.UserID, code, now)
	case domain.MfaMethodWebAuthn:
		return c.verifyWebAuthn(ctx, session.UserID, code)
	}
	return false, fault.InvalidState("unsupported mfa method type")
}

// verifyBackupCode scans the user's unused codes and consumes exactly one on
// match; a concurrent verify of the same code loses the MarkUsed race.
func (c *MfaCoordinator) verifyBackupCode(userID, code string, now time.Time) (bool, error) {
	codes, err := c.backupRepo.ListUnused(userID)
	if err != nil {
		return false, fault.Wrap(fault.KindTransient, "list backup codes", err)
	}
	for _, candidate := range codes {
		if !security.MatchBackupCode(code, candidate.CodeHash) {
			continue
		}
		used, err := c.backupRepo.MarkUsed(candidate.ID, now)
		if err != nil {
			return false, fault.Wrap(fault.KindTransient, "consume backup code", err)
		}
		return used, nil
	}
	return false, nil
}

func (c *MfaCoordinator) verifyWebAuthn(ctx context.Context, userID, code string) (bool, error) {
	var payload WebAuthnAssertionPayload
	if err := json.Unmarshal([]byte(code), &payload); err != nil {
		return false, fault.Wrap(fault.KindInvalidState, "parse webauthn assertion", err)
	}
	cred, err := c.webauthnRepo.FindByCredentialID(payload.CredentialID)
	if err != nil {
		if errors.Is(err, repository.ErrWebAuthnCredNotFound) {
			return false, fault.NotFound("webauthn credential not found")
		}
		return false, fault.Wrap(fault.KindTransient, "load webauthn credential", err)
	}
	if cred.UserID != userID {
		return false, fault.AuthFailure("webauthn credential does not belong to user")
	}
	assertion, err := decodeAssertion(&payload)
	if err != nil {
		return false, err
	}
	signCount, err := security.VerifyAssertion(cred.PublicKey, assertion)
	if err != nil {
		if fault.IsKind(err, fault.KindAuthFailure) {
			return false, nil
		}
		return false, err
	}
	if err := c.webauthnRepo.AdvanceSignCount(cred.ID, signCount); err != nil {
		if errors.Is(err, repository.ErrStaleSignCount) {
			// A non-increasing counter is a cloned-authenticator signal.
			observability.RecordMfaEvent("webauthn", "replay")
			observability.Audit(ctx, "webauthn_counter_replay",
				"credential_id", cred.CredentialID, "user_id", userID,
				"reported_count", signCount)
			return false, fault.AuthFailure("webauthn signature counter did not increase")
		}
		return false, fault.Wrap(fault.KindTransient, "advance sign count", err)
	}
	return true, nil
}

func decodeAssertion(payload *WebAuthnAssertionPayload) (*security.WebAuthnAssertion, error) {
	authData, err := base64.StdEncoding.DecodeString(payload.AuthenticatorData)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidState, "decode authenticator data", err)
	}
	clientData, err := base64.StdEncoding.DecodeString(payload.ClientDataJSON)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidState, "decode client data", err)
	}
	sig, err := base64.StdEncoding.DecodeString(payload.Signature)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidState, "decode signature", err)
	}
	return &security.WebAuthnAssertion{
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
	}, nil
}

// activateMethod promotes a PENDING enrollment on its first successful verify.
func (c *MfaCoordinator) activateMethod(session *domain.MfaSession) {
	if session.MethodID == nil {
		return
	}
	method, err := c.methodRepo.FindByID(*session.MethodID)
	if err != nil || method.Status != domain.MfaMethodPending {
		return
	}
	_ = c.methodRepo.UpdateStatus(method.ID, domain.MfaMethodActive)
}

func (c *MfaCoordinator) recordFailure(id string) error {
	if err := c.mfaRepo.IncrementAttempt(id); err != nil {
		return fault.Wrap(fault.KindTransient, "increment attempt", err)
	}
	if _, err := c.mfaRepo.SetStatus(id, domain.MfaSessionFailed,
		[]domain.MfaSessionStatus{domain.MfaSessionPending, domain.MfaSessionFailed}); err != nil {
		return fault.Wrap(fault.KindTransient, "mark mfa session failed", err)
	}
	return nil
}

// Fail records an externally observed verification failure.
func (c *MfaCoordinator) Fail(id string) error {
	session, err := c.mfaRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrMfaSessionNotFound) {
			return fault.NotFound("mfa session not found")
		}
		return fault.Wrap(fault.KindTransient, "load mfa session", err)
	}
	if session.Status.Terminal() || session.Status == domain.MfaSessionExpired {
		return fault.InvalidState("mfa session already " + string(session.Status))
	}
	return c.recordFailure(id)
}

// Complete marks the session verified without running a channel check; used
// when verification happened out of band.
func (c *MfaCoordinator) Complete(id string) error {
	done, err := c.mfaRepo.Complete(id, time.Now().UTC())
	if err != nil {
		return fault.Wrap(fault.KindTransient, "complete mfa session", err)
	}
	if !done {
		return fault.InvalidState("mfa session is not in a completable state")
	}
	return nil
}

func (c *MfaCoordinator) Cancel(id string) error {
	moved, err := c.mfaRepo.SetStatus(id, domain.MfaSessionCancelled,
		[]domain.MfaSessionStatus{domain.MfaSessionPending, domain.MfaSessionFailed})
	if err != nil {
		return fault.Wrap(fault.KindTransient, "cancel mfa session", err)
	}
	if !moved {
		return fault.InvalidState("mfa session is not cancellable")
	}
	observability.RecordMfaEvent("cancel", "success")
	return nil
}

// TOTPEnrollment is returned once at enroll time; the secret never leaves the
// server again.
type TOTPEnrollment struct {
	Method       *domain.MfaMethod
	SecretBase32 string
	ProvisionURI string
}

func (c *MfaCoordinator) EnrollTOTP(userID, account string) (*TOTPEnrollment, error) {
	secret, secretBase32, err := c.totp.GenerateSecret()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "generate totp secret", err)
	}
	method := &domain.MfaMethod{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   domain.MfaMethodTOTP,
		Status: domain.MfaMethodPending,
		Secret: secret,
	}
	if err := c.methodRepo.Create(method); err != nil {
		if errors.Is(err, repository.ErrMfaMethodExists) {
			return nil, fault.Conflict("totp method already enrolled")
		}
		return nil, fault.Wrap(fault.KindTransient, "store totp method", err)
	}
	observability.RecordMfaEvent("enroll", "totp")
	return &TOTPEnrollment{
		Method:       method,
		SecretBase32: secretBase32,
		ProvisionURI: c.totp.ProvisionURI(secretBase32, account),
	}, nil
}

func (c *MfaCoordinator) EnrollSMS(userID, phoneNumber string) (*domain.MfaMethod, error) {
	if phoneNumber == "" {
		return nil, fault.InvalidState("sms enrollment requires a phone number")
	}
	method := &domain.MfaMethod{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        domain.MfaMethodSMS,
		Status:      domain.MfaMethodPending,
		PhoneNumber: &phoneNumber,
	}
	if err := c.methodRepo.Create(method); err != nil {
		if errors.Is(err, repository.ErrMfaMethodExists) {
			return nil, fault.Conflict("sms method already enrolled")
		}
		return nil, fault.Wrap(fault.KindTransient, "store sms method", err)
	}
	observability.RecordMfaEvent("enroll", "sms")
	return method, nil
}

// RegisterWebAuthnCredential stores an authenticator public key produced by a
// completed registration ceremony and the matching MfaMethod row.
func (c *MfaCoordinator) RegisterWebAuthnCredential(userID, credentialID string, publicKeyDER []byte, initialSignCount uint32) (*domain.WebAuthnCredential, error) {
	if credentialID == "" || len(publicKeyDER) == 0 {
		return nil, fault.InvalidState("webauthn registration requires credential id and public key")
	}
	cred := &domain.WebAuthnCredential{
		ID:           uuid.NewString(),
		UserID:       userID,
		CredentialID: credentialID,
		PublicKey:    publicKeyDER,
		SignCount:    initialSignCount,
	}
	if err := c.webauthnRepo.Create(cred); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "store webauthn credential", err)
	}
	if _, err := c.methodRepo.FindByUserAndType(userID, domain.MfaMethodWebAuthn); err != nil {
		if errors.Is(err, repository.ErrMfaMethodNotFound) {
			method := &domain.MfaMethod{
				ID:     uuid.NewString(),
				UserID: userID,
				Type:   domain.MfaMethodWebAuthn,
				Status: domain.MfaMethodActive,
			}
			if err := c.methodRepo.Create(method); err != nil && !errors.Is(err, repository.ErrMfaMethodExists) {
				return nil, fault.Wrap(fault.KindTransient, "store webauthn method", err)
			}
		} else {
			return nil, fault.Wrap(fault.KindTransient, "load webauthn method", err)
		}
	}
	observability.RecordMfaEvent("enroll", "webauthn")
	return cred, nil
}

func (c *MfaCoordinator) RevokeMethod(methodID string) error {
	if err := c.methodRepo.UpdateStatus(methodID, domain.MfaMethodRevoked); err != nil {
		if errors.Is(err, repository.ErrMfaMethodNotFound) {
			return fault.NotFound("mfa method not found")
		}
		return fault.Wrap(fault.KindTransient, "revoke mfa method", err)
	}
	observability.RecordMfaEvent("revoke_method", "success")
	return nil
}

func (c *MfaCoordinator) ListMethods(userID string) ([]domain.MfaMethod, error) {
	methods, err := c.methodRepo.ListByUser(userID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "list mfa methods", err)
	}
	return methods, nil
}

// IssueBackupCodes regenerates the user's recovery set and returns the
// plaintext codes exactly once.
func (c *MfaCoordinator) IssueBackupCodes(userID string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fault.InvalidState("backup code count must be positive")
	}
	codes, err := security.GenerateBackupCodes(count)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "generate backup codes", err)
	}
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		h, err := security.HashBackupCode(code)
		if err != nil {
			return nil, fault.Wrap(fault.KindTransient, "hash backup code", err)
		}
		hashes = append(hashes, h)
	}
	if err := c.backupRepo.Replace(userID, hashes); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "store backup codes", err)
	}
	observability.RecordMfaEvent("backup_codes", "issued")
	return codes, nil
}

func (c *MfaCoordinator) UnusedBackupCodeCount(userID string) (int64, error) {
	n, err := c.backupRepo.CountUnused(userID)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "count backup codes", err)
	}
	return n, nil
}
