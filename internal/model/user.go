package model

import "time"

type User struct {
	ID        int64      `json:"id"`
	Phone     string     `json:"phone"`
	ConsentAt *time.Time `json:"consent_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
