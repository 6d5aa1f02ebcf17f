package models

import (
	"database/sql"
	"time"
)

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string // "farmer", "officer", "admin"
	CreatedAt    time.Time
}

type Borewell struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        string
	UserID    int64
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PredictionRun records one forecast request and its alert outcome.
type PredictionRun struct {
	ID          int64
	UserID      int64
	BorewellID  int64
	RequestedAt time.Time
	Source      string // "api" or "sweep"
	Horizon     int
	SeriesJSON  string
	Alert       bool
	MinIndex    sql.NullInt64
	MinValue    sql.NullFloat64
	Threshold   sql.NullFloat64
	Status      string // advisory status
}

// AlertTarget is a user with a configured threshold and their primary borewell.
type AlertTarget struct {
	UserID    int64
	Email     string
	Threshold float64
	Borewell  Borewell
}
