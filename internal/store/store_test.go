package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/wellwatch/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	id, err := s.CreateUser(email, "hash", "farmer")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestCreateAndGetUser(t *testing.T) {
	store := setupTestStore(t)

	id := createTestUser(t, store, "asha@example.com")

	u, err := store.GetUserByEmail("asha@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u == nil {
		t.Fatal("GetUserByEmail returned nil")
	}
	if u.ID != id || u.Role != "farmer" || u.PasswordHash != "hash" {
		t.Errorf("user = %+v", u)
	}

	byID, err := store.GetUser(id)
	if err != nil || byID == nil || byID.Email != "asha@example.com" {
		t.Errorf("GetUser = %+v, %v", byID, err)
	}

	missing, err := store.GetUserByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing user = %+v, want nil", missing)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "dup@example.com")

	_, err := store.CreateUser("dup@example.com", "other", "farmer")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestBorewells(t *testing.T) {
	store := setupTestStore(t)
	owner := createTestUser(t, store, "owner@example.com")
	other := createTestUser(t, store, "other@example.com")

	primary, err := store.GetPrimaryBorewell(owner)
	if err != nil {
		t.Fatalf("GetPrimaryBorewell: %v", err)
	}
	if primary != nil {
		t.Fatalf("primary before insert = %+v, want nil", primary)
	}

	first, err := store.AddBorewell(owner, "north field", 12.97, 77.59)
	if err != nil {
		t.Fatalf("AddBorewell: %v", err)
	}
	if _, err := store.AddBorewell(owner, "south field", 12.91, 77.60); err != nil {
		t.Fatalf("AddBorewell: %v", err)
	}

	wells, err := store.ListBorewells(owner)
	if err != nil {
		t.Fatalf("ListBorewells: %v", err)
	}
	if len(wells) != 2 {
		t.Fatalf("len(wells) = %d, want 2", len(wells))
	}
	if wells[0].Name != "north field" || wells[0].Latitude != 12.97 {
		t.Errorf("wells[0] = %+v", wells[0])
	}

	primary, err = store.GetPrimaryBorewell(owner)
	if err != nil || primary == nil || primary.ID != first.ID {
		t.Errorf("GetPrimaryBorewell = %+v, %v; want id %d", primary, err, first.ID)
	}

	got, err := store.GetBorewell(owner, first.ID)
	if err != nil || got == nil {
		t.Fatalf("GetBorewell owner = %+v, %v", got, err)
	}
	notMine, err := store.GetBorewell(other, first.ID)
	if err != nil {
		t.Fatalf("GetBorewell other: %v", err)
	}
	if notMine != nil {
		t.Errorf("other user can read borewell %d", first.ID)
	}
}

func TestThreshold(t *testing.T) {
	store := setupTestStore(t)
	user := createTestUser(t, store, "t@example.com")

	got, err := store.GetThreshold(user)
	if err != nil {
		t.Fatalf("GetThreshold: %v", err)
	}
	if got != nil {
		t.Fatalf("threshold before set = %v, want nil", *got)
	}

	if err := store.SetThreshold(user, 4.5); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
	if err := store.SetThreshold(user, 3.25); err != nil {
		t.Fatalf("SetThreshold replace: %v", err)
	}

	got, err = store.GetThreshold(user)
	if err != nil || got == nil {
		t.Fatalf("GetThreshold = %v, %v", got, err)
	}
	if *got != 3.25 {
		t.Errorf("threshold = %v, want 3.25", *got)
	}
}

func TestSessions(t *testing.T) {
	store := setupTestStore(t)
	user := createTestUser(t, store, "s@example.com")
	now := time.Now().UTC()

	live := models.Session{ID: "live", UserID: user, Role: "farmer", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := models.Session{ID: "stale", UserID: user, Role: "farmer", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, sess := range []models.Session{live, stale} {
		if err := store.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession %s: %v", sess.ID, err)
		}
	}

	got, err := store.GetSession("live", now)
	if err != nil || got == nil {
		t.Fatalf("GetSession live = %+v, %v", got, err)
	}
	if got.UserID != user {
		t.Errorf("UserID = %d, want %d", got.UserID, user)
	}

	expired, err := store.GetSession("stale", now)
	if err != nil {
		t.Fatalf("GetSession stale: %v", err)
	}
	if expired != nil {
		t.Error("expired session returned")
	}

	n, err := store.DeleteExpiredSessions(now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}

	if err := store.DeleteSession("live"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	gone, err := store.GetSession("live", now)
	if err != nil || gone != nil {
		t.Errorf("after delete = %+v, %v", gone, err)
	}
}

func TestPredictionRuns(t *testing.T) {
	store := setupTestStore(t)
	user := createTestUser(t, store, "p@example.com")
	well, err := store.AddBorewell(user, "", 10, 10)
	if err != nil {
		t.Fatalf("AddBorewell: %v", err)
	}

	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.InsertPredictionRun(models.PredictionRun{
			UserID:      user,
			BorewellID:  well.ID,
			RequestedAt: base.Add(time.Duration(i) * time.Hour),
			Source:      "api",
			Horizon:     3,
			SeriesJSON:  "[5,3,7]",
			Alert:       i == 2,
			MinIndex:    sql.NullInt64{Int64: 1, Valid: true},
			MinValue:    sql.NullFloat64{Float64: 3, Valid: true},
			Threshold:   sql.NullFloat64{Float64: 4, Valid: i == 2},
			Status:      "safe",
		})
		if err != nil {
			t.Fatalf("InsertPredictionRun: %v", err)
		}
	}

	runs, err := store.ListPredictionRuns(user, 2)
	if err != nil {
		t.Fatalf("ListPredictionRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if !runs[0].Alert || !runs[0].RequestedAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].Threshold.Valid {
		t.Errorf("older run threshold = %+v, want NULL", runs[1].Threshold)
	}
}

func TestListAlertTargets(t *testing.T) {
	store := setupTestStore(t)

	ready := createTestUser(t, store, "ready@example.com")
	noThreshold := createTestUser(t, store, "nothreshold@example.com")
	noWell := createTestUser(t, store, "nowell@example.com")

	first, _ := store.AddBorewell(ready, "a", 1, 1)
	store.AddBorewell(ready, "b", 2, 2)
	store.AddBorewell(noThreshold, "c", 3, 3)
	store.SetThreshold(ready, 5)
	store.SetThreshold(noWell, 5)

	targets, err := store.ListAlertTargets()
	if err != nil {
		t.Fatalf("ListAlertTargets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("len(targets) = %d, want 1: %+v", len(targets), targets)
	}
	if targets[0].UserID != ready || targets[0].Borewell.ID != first.ID || targets[0].Threshold != 5 {
		t.Errorf("target = %+v", targets[0])
	}
}

func TestWeatherPayloads(t *testing.T) {
	store := setupTestStore(t)
	body := []byte(`{"daily":{"precipitation_sum":[0,1.2]}}`)

	id, err := store.StoreWeatherPayload("openmeteo", 12.97, 77.59, body)
	if err != nil {
		t.Fatalf("StoreWeatherPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("id = 0 for new payload")
	}

	dup, err := store.StoreWeatherPayload("openmeteo", 12.97, 77.59, body)
	if err != nil {
		t.Fatalf("StoreWeatherPayload dup: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, meta, err := store.GetWeatherPayload(id)
	if err != nil {
		t.Fatalf("GetWeatherPayload: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("payload = %q, want %q", got, body)
	}
	if meta.Source != "openmeteo" || meta.Latitude != 12.97 {
		t.Errorf("meta = %+v", meta)
	}

	removed, err := store.CleanupWeatherPayloads(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CleanupWeatherPayloads: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
