package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs, synthesized samples and
// class distributions. A nil *Store accepts writes and drops them.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; the pipeline worker and HTTP readers share it
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS augmentations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            class TEXT,
            sample_id INTEGER,
            source_path TEXT NOT NULL,
            transform TEXT NOT NULL,
            output_path TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS class_counts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            root TEXT NOT NULL,
            class TEXT NOT NULL,
            image_count INTEGER NOT NULL,
            percent REAL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_augmentations_job_id ON augmentations(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_class_counts_root ON class_counts(root);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AugmentationRecord is one synthesized sample.
type AugmentationRecord struct {
	JobID      string `json:"job_id"`
	Class      string `json:"class"`
	SampleID   int    `json:"sample_id"`
	SourcePath string `json:"source"`
	Transform  string `json:"transform"`
	OutputPath string `json:"output"`
}

// ClassCountRecord is one class of a distribution snapshot.
type ClassCountRecord struct {
	Class   string  `json:"class"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if _, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id); err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

func scanJob(row interface{ Scan(...any) error }) (JobRecord, error) {
	var rec JobRecord
	var started, completed sql.NullTime
	var input, output, options, errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &options, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	rec.InputPath, rec.OutputPath, rec.OptionsJSON, rec.Error = input.String, output.String, options.String, errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches one job by id. It returns sql.ErrNoRows when absent.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	return scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordAugmentations stores the synthesized samples of a job in one transaction.
func (s *Store) RecordAugmentations(recs []AugmentationRecord) error {
	if s == nil || len(recs) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO augmentations (job_id, class, sample_id, source_path, transform, output_path) VALUES (?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.Exec(r.JobID, r.Class, r.SampleID, r.SourcePath, r.Transform, r.OutputPath); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Augmentations lists the samples recorded for a job in creation order.
func (s *Store) Augmentations(jobID string) ([]AugmentationRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, class, sample_id, source_path, transform, output_path FROM augmentations WHERE job_id=? ORDER BY id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AugmentationRecord
	for rows.Next() {
		var r AugmentationRecord
		if err := rows.Scan(&r.JobID, &r.Class, &r.SampleID, &r.SourcePath, &r.Transform, &r.OutputPath); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// RecordDistribution stores a class-count snapshot of root.
func (s *Store) RecordDistribution(jobID, root string, counts []ClassCountRecord) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	for _, c := range counts {
		if _, err := tx.Exec(`INSERT INTO class_counts (job_id, root, class, image_count, percent) VALUES (?, ?, ?, ?, ?);`,
			jobID, root, c.Class, c.Count, c.Percent); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestDistribution returns the most recent snapshot recorded for root.
func (s *Store) LatestDistribution(root string) ([]ClassCountRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT class, image_count, percent FROM class_counts
        WHERE root=? AND job_id=(SELECT job_id FROM class_counts WHERE root=? ORDER BY id DESC LIMIT 1)
        ORDER BY class;`, root, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClassCountRecord
	for rows.Next() {
		var c ClassCountRecord
		if err := rows.Scan(&c.Class, &c.Count, &c.Percent); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
