package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/lidar/export"
)

// ErrRunNotFound is returned when no scan run has the requested ID.
var ErrRunNotFound = errors.New("scan run not found")

// ScanRun is a recorded sweep or animation.
type ScanRun struct {
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	Label        string          `json:"label,omitempty"`
	Preset       string          `json:"preset"`
	SettingsJSON json.RawMessage `json:"settings_json,omitempty"`
	Seed         uint64          `json:"seed"`

	Animated      bool  `json:"animated"`
	FramesScanned int   `json:"frames_scanned"`
	FramesSkipped []int `json:"frames_skipped,omitempty"`

	RaysCast   int                   `json:"rays_cast"`
	Rejections lidar.RejectionCounts `json:"rejections"`
	Stats      lidar.ScanStats       `json:"stats"`
	Elapsed    time.Duration         `json:"elapsed"`

	Exports []ScanExport `json:"exports,omitempty"`
}

// ScanExport is one format written for a run.
type ScanExport struct {
	Format      string `json:"format"`
	Path        string `json:"path,omitempty"`
	Bytes       int    `json:"bytes"`
	Error       string `json:"error,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// ExportsFromResults converts exporter results for storage.
func ExportsFromResults(results []export.Result) []ScanExport {
	out := make([]ScanExport, len(results))
	for i, r := range results {
		out[i] = ScanExport{
			Format:      r.Format,
			Path:        r.Path,
			Bytes:       r.Bytes,
			Unavailable: r.Unavailable,
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// NewScanRun summarises a scan result. Frames scanned is 1 unless the
// caller sets it for an animation.
func NewScanRun(s lidar.ScanSettings, res *lidar.ScanResult, exports []export.Result) *ScanRun {
	return &ScanRun{
		Preset:        s.Preset,
		FramesScanned: 1,
		RaysCast:      res.RaysCast,
		Rejections:    res.Rejections,
		Stats:         res.Stats,
		Elapsed:       res.Elapsed,
		Exports:       ExportsFromResults(exports),
	}
}

// ScanRunStore persists scan runs.
type ScanRunStore struct {
	db *sql.DB
}

// NewScanRunStore creates a new ScanRunStore.
func NewScanRunStore(db *sql.DB) *ScanRunStore {
	return &ScanRunStore{db: db}
}

// Insert persists run and its exports in one transaction. If RunID is
// empty, a UUID is generated; a zero StartedAt is set to now.
func (s *ScanRunStore) Insert(run *ScanRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	var settings interface{}
	if len(run.SettingsJSON) > 0 {
		settings = string(run.SettingsJSON)
	}
	var skipped interface{}
	if len(run.FramesSkipped) > 0 {
		b, err := json.Marshal(run.FramesSkipped)
		if err != nil {
			return fmt.Errorf("encode skipped frames: %w", err)
		}
		skipped = string(b)
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO scan_runs (
				run_id, started_at, label, preset, settings_json, seed,
				animated, frames_scanned, frames_skipped,
				rays_cast, points, rejected_miss, rejected_range, rejected_dropout, rejected_weather,
				min_distance, max_distance, mean_distance,
				min_intensity, max_intensity, mean_intensity, unique_objects,
				elapsed_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.StartedAt.UnixNano(), run.Label, run.Preset, settings, int64(run.Seed),
			run.Animated, run.FramesScanned, skipped,
			run.RaysCast, run.Stats.TotalPoints,
			run.Rejections.Miss, run.Rejections.Range, run.Rejections.Dropout, run.Rejections.Weather,
			run.Stats.MinDistance, run.Stats.MaxDistance, run.Stats.MeanDistance,
			run.Stats.MinIntensity, run.Stats.MaxIntensity, run.Stats.MeanIntensity,
			run.Stats.UniqueObjects, run.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert scan run: %w", err)
		}

		for _, e := range run.Exports {
			var path, errText interface{}
			if e.Path != "" {
				path = e.Path
			}
			if e.Error != "" {
				errText = e.Error
			}
			if _, err := tx.Exec(`
				INSERT INTO scan_exports (run_id, format, path, bytes, error, unavailable)
				VALUES (?, ?, ?, ?, ?, ?)`,
				run.RunID, e.Format, path, e.Bytes, errText, e.Unavailable,
			); err != nil {
				return fmt.Errorf("insert scan export %s: %w", e.Format, err)
			}
		}
		return tx.Commit()
	})
}

const selectScanRun = `
	SELECT run_id, started_at, label, preset, settings_json, seed,
	       animated, frames_scanned, frames_skipped,
	       rays_cast, points, rejected_miss, rejected_range, rejected_dropout, rejected_weather,
	       min_distance, max_distance, mean_distance,
	       min_intensity, max_intensity, mean_intensity, unique_objects,
	       elapsed_ms
	FROM scan_runs`

// Get returns a single run, with its exports, by ID.
func (s *ScanRunStore) Get(runID string) (*ScanRun, error) {
	row := s.db.QueryRow(selectScanRun+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	if run.Exports, err = s.exports(run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRecent returns up to limit runs, newest first, with their exports.
func (s *ScanRunStore) ListRecent(limit int) ([]*ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(selectScanRun+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}

	var runs []*ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	// Close before issuing further queries; the pool holds one connection.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.Exports, err = s.exports(run.RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Delete removes a run and, by cascade, its exports.
func (s *ScanRunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM scan_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete scan run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

func (s *ScanRunStore) exports(runID string) ([]ScanExport, error) {
	rows, err := s.db.Query(`
		SELECT format, path, bytes, error, unavailable
		FROM scan_exports
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scan exports: %w", err)
	}
	defer rows.Close()

	var out []ScanExport
	for rows.Next() {
		var e ScanExport
		var path, errText sql.NullString
		if err := rows.Scan(&e.Format, &path, &e.Bytes, &errText, &e.Unavailable); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		e.Path = path.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ScanRun, error) {
	var (
		r          ScanRun
		startedAt  int64
		seed       int64
		settings   sql.NullString
		skipped    sql.NullString
		elapsedMS  int64
		minD, maxD sql.NullFloat64
		meanD      sql.NullFloat64
		minI, maxI sql.NullFloat64
		meanI      sql.NullFloat64
	)
	err := row.Scan(
		&r.RunID, &startedAt, &r.Label, &r.Preset, &settings, &seed,
		&r.Animated, &r.FramesScanned, &skipped,
		&r.RaysCast, &r.Stats.TotalPoints,
		&r.Rejections.Miss, &r.Rejections.Range, &r.Rejections.Dropout, &r.Rejections.Weather,
		&minD, &maxD, &meanD,
		&minI, &maxI, &meanI, &r.Stats.UniqueObjects,
		&elapsedMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}

	r.StartedAt = time.Unix(0, startedAt)
	r.Seed = uint64(seed)
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	r.Stats.MinDistance = minD.Float64
	r.Stats.MaxDistance = maxD.Float64
	r.Stats.MeanDistance = meanD.Float64
	r.Stats.MinIntensity = minI.Float64
	r.Stats.MaxIntensity = maxI.Float64
	r.Stats.MeanIntensity = meanI.Float64
	if settings.Valid {
		r.SettingsJSON = json.RawMessage(settings.String)
	}
	if skipped.Valid {
		if err := json.Unmarshal([]byte(skipped.String), &r.FramesSkipped); err != nil {
			return nil, fmt.Errorf("decode skipped frames: %w", err)
		}
	}
	return &r, nil
}
