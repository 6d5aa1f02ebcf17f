package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lox/wellwatch/internal/models"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) CreateUser(email, passwordHash, role string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO users (email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)
	`, email, passwordHash, role, time.Now().UTC())
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *Store) GetUser(id int64) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) AddBorewell(userID int64, name string, lat, lon float64) (*models.Borewell, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO borewells (user_id, name, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, name, lat, lon, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Borewell{ID: id, UserID: userID, Name: name, Latitude: lat, Longitude: lon, CreatedAt: now}, nil
}

func (s *Store) ListBorewells(userID int64) ([]models.Borewell, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, latitude, longitude, created_at
		FROM borewells
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wells []models.Borewell
	for rows.Next() {
		var b models.Borewell
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Latitude, &b.Longitude, &b.CreatedAt); err != nil {
			return nil, err
		}
		wells = append(wells, b)
	}
	return wells, rows.Err()
}

// GetBorewell returns the borewell only if it belongs to userID.
func (s *Store) GetBorewell(userID, borewellID int64) (*models.Borewell, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, latitude, longitude, created_at
		FROM borewells
		WHERE id = ? AND user_id = ?
	`, borewellID, userID)
	return scanBorewell(row)
}

// GetPrimaryBorewell returns the user's first registered borewell.
func (s *Store) GetPrimaryBorewell(userID int64) (*models.Borewell, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, latitude, longitude, created_at
		FROM borewells
		WHERE user_id = ?
		ORDER BY id ASC
		LIMIT 1
	`, userID)
	return scanBorewell(row)
}

func scanBorewell(row *sql.Row) (*models.Borewell, error) {
	var b models.Borewell
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Latitude, &b.Longitude, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SetThreshold(userID int64, threshold float64) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (user_id, threshold, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			threshold = excluded.threshold,
			updated_at = excluded.updated_at
	`, userID, threshold, time.Now().UTC())
	return err
}

// GetThreshold returns nil when the user has not configured a threshold.
func (s *Store) GetThreshold(userID int64) (*float64, error) {
	var threshold float64
	err := s.db.QueryRow(`SELECT threshold FROM settings WHERE user_id = ?`, userID).Scan(&threshold)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &threshold, nil
}

func (s *Store) CreateSession(sess models.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, role, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Role, sess.CreatedAt, sess.ExpiresAt)
	return err
}

// GetSession returns nil for unknown or expired sessions.
func (s *Store) GetSession(id string, now time.Time) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRow(`
		SELECT id, user_id, role, created_at, expires_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !now.Before(sess.ExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteExpiredSessions(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) InsertPredictionRun(run models.PredictionRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO prediction_runs (user_id, borewell_id, requested_at, source, horizon, series_json, alert, min_index, min_value, threshold, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.UserID, run.BorewellID, run.RequestedAt, run.Source, run.Horizon, run.SeriesJSON, run.Alert, run.MinIndex, run.MinValue, run.Threshold, run.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListPredictionRuns(userID int64, limit int) ([]models.PredictionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, borewell_id, requested_at, source, horizon, series_json, alert, min_index, min_value, threshold, status
		FROM prediction_runs
		WHERE user_id = ?
		ORDER BY requested_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.PredictionRun
	for rows.Next() {
		var r models.PredictionRun
		if err := rows.Scan(&r.ID, &r.UserID, &r.BorewellID, &r.RequestedAt, &r.Source, &r.Horizon, &r.SeriesJSON, &r.Alert, &r.MinIndex, &r.MinValue, &r.Threshold, &r.Status); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListAlertTargets returns every user that has both a threshold and at
// least one borewell, paired with their primary borewell.
func (s *Store) ListAlertTargets() ([]models.AlertTarget, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.email, st.threshold,
		       b.id, b.user_id, b.name, b.latitude, b.longitude, b.created_at
		FROM users u
		JOIN settings st ON st.user_id = u.id
		JOIN borewells b ON b.id = (SELECT MIN(id) FROM borewells WHERE user_id = u.id)
		ORDER BY u.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.AlertTarget
	for rows.Next() {
		var t models.AlertTarget
		b := &t.Borewell
		if err := rows.Scan(&t.UserID, &t.Email, &t.Threshold, &b.ID, &b.UserID, &b.Name, &b.Latitude, &b.Longitude, &b.CreatedAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
