package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// WeatherPayload is an archived weather provider response.
type WeatherPayload struct {
	ID          int64
	FetchedAt   time.Time
	Source      string
	Latitude    float64
	Longitude   float64
	PayloadHash string
}

// StoreWeatherPayload stores a compressed provider response.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreWeatherPayload(source string, lat, lon float64, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	result, err := s.db.Exec(`
		INSERT INTO weather_payloads (fetched_at, source, latitude, longitude, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, time.Now().UTC(), source, lat, lon, buf.Bytes(), hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert weather payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetWeatherPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetWeatherPayload(id int64) ([]byte, *WeatherPayload, error) {
	var p WeatherPayload
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT id, fetched_at, source, latitude, longitude, payload_hash, payload_compressed
		FROM weather_payloads WHERE id = ?
	`, id).Scan(&p.ID, &p.FetchedAt, &p.Source, &p.Latitude, &p.Longitude, &p.PayloadHash, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	body, err := io.ReadAll(gz)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress payload %d: %w", id, err)
	}
	return body, &p, nil
}

// CleanupWeatherPayloads deletes payloads fetched before cutoff and returns
// the number removed.
func (s *Store) CleanupWeatherPayloads(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM weather_payloads WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
