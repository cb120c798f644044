package model

import "time"

type PairingStatus string

const (
	PairingPending  PairingStatus = "PENDING"
	PairingApproved PairingStatus = "APPROVED"
	PairingExpired  PairingStatus = "EXPIRED"
)

// PairingChallenge never carries the plaintext code. CodeHash verifies a
// submitted code; the ciphertext triple lets an authorized device redisplay it.
type PairingChallenge struct {
	ID             string
	UserID         int64
	NewDeviceID    string
	CodeSalt       []byte
	CodeHash       []byte
	CodeCiphertext []byte
	CodeIV         []byte
	CodeTag        []byte
	AttemptsLeft   int
	Status         PairingStatus
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ApprovedAt     *time.Time
}
