package repository

import (
	"database/sql"
	"fmt"
	"time"

	"Bt2Deck/db"
	"Bt2Deck/model"
)

// TrackRepository defines the interface for track metadata operations.
// This is the track metadata provider contract the DJ engine loads from;
// the engine itself never caches metadata beyond the running session.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetAllTracks() ([]*model.Track, error)
	UpdateAnalysis(track *model.Track) error
	DeleteTrack(id int64) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, title, artist, duration_ms, audio_path, waveform_path,
	bpm, bpm_confidence, beat_offset_ms, music_key, key_confidence,
	highlight_time_ms, energy, danceability, analysis_status, created_at, updated_at`

// CreateTrack adds a new track to the database.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO tracks (title, artist, duration_ms, audio_path, waveform_path,
		bpm, bpm_confidence, beat_offset_ms, music_key, key_confidence,
		highlight_time_ms, energy, danceability, analysis_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(track.Title, track.Artist, track.DurationMs, track.AudioPath, track.WaveformPath,
		nullFloat(track.BPM), track.BPMConfidence, track.BeatOffsetMs, nullString(track.Key), track.KeyConfidence,
		nullFloat(track.HighlightTimeMs), track.Energy, track.Danceability, track.AnalysisStatus, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	return id, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	track, err := scanTrack(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetAllTracks retrieves all tracks from the database.
func (r *mysqlTrackRepository) GetAllTracks() ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks ORDER BY created_at DESC`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetAllTracks: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAllTracks: %w", err)
	}

	return tracks, nil
}

// UpdateAnalysis updates the analyzer-produced fields for a track.
func (r *mysqlTrackRepository) UpdateAnalysis(track *model.Track) error {
	query := `UPDATE tracks SET bpm = ?, bpm_confidence = ?, beat_offset_ms = ?,
		music_key = ?, key_confidence = ?, highlight_time_ms = ?,
		energy = ?, danceability = ?, analysis_status = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateAnalysis: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(nullFloat(track.BPM), track.BPMConfidence, track.BeatOffsetMs,
		nullString(track.Key), track.KeyConfidence, nullFloat(track.HighlightTimeMs),
		track.Energy, track.Danceability, track.AnalysisStatus, time.Now(), track.ID)
	if err != nil {
		return fmt.Errorf("failed to execute UpdateAnalysis for track ID %d: %w", track.ID, err)
	}
	return nil
}

// DeleteTrack removes a track row.
func (r *mysqlTrackRepository) DeleteTrack(id int64) error {
	_, err := r.DB.Exec(`DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete track %d: %w", id, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(s scanner) (*model.Track, error) {
	track := &model.Track{}
	var bpm, highlight sql.NullFloat64
	var key sql.NullString

	err := s.Scan(&track.ID, &track.Title, &track.Artist, &track.DurationMs,
		&track.AudioPath, &track.WaveformPath,
		&bpm, &track.BPMConfidence, &track.BeatOffsetMs, &key, &track.KeyConfidence,
		&highlight, &track.Energy, &track.Danceability, &track.AnalysisStatus,
		&track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if bpm.Valid {
		track.BPM = &bpm.Float64
	}
	if highlight.Valid {
		track.HighlightTimeMs = &highlight.Float64
	}
	if key.Valid {
		track.Key = &key.String
	}
	return track, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
