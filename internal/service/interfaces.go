package service

import "context"

// ChallengeSender delivers one-time codes over an out-of-band channel. The
// coordinator hashes and stores the code before calling the sender, so only
// the hash is ever persisted; when delivery fails the pending challenge keeps
// its hash, Start returns the error, and nobody holds the plaintext code.
type ChallengeSender interface {
	SendSMS(ctx context.Context, phoneNumber, code string) error
	SendEmail(ctx context.Context, userID, code string) error
}

// PushApprover asks an external push provider whether the user approved the
// challenge identified by challengeID.
type PushApprover interface {
	RequestApproval(ctx context.Context, userID, challengeID string) error
	CheckApproval(ctx context.Context, challengeID string) (bool, error)
}

// DeviceInfo captures the client context bound to a new session.
type DeviceInfo struct {
	DeviceID  string
	UserAgent string
	IP        string
}
