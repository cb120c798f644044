package model

import "time"

type OTPCode struct {
	ID           int64
	Phone        string
	CodeSalt     []byte
	CodeHash     []byte
	AttemptsLeft int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
}
