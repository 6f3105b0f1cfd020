package store

import (
	"database/sql"
	"time"
)

// FetchRun records one remote API call for auditing.
type FetchRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "meteostat"
	Endpoint          string // "point/daily", "stations/nearby", ...
	Query             sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// RecordFetchRun inserts a completed fetch run.
func (s *Store) RecordFetchRun(run FetchRun) error {
	if !run.FinishedAt.Valid {
		run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO fetch_runs (started_at, finished_at, source, endpoint, query, http_status,
			response_size_bytes, records_parsed, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt, run.FinishedAt, run.Source, run.Endpoint, run.Query, run.HTTPStatus,
		run.ResponseSizeBytes, run.RecordsParsed, run.Success, run.ErrorMessage)
	return err
}

// FetchHealthSummary aggregates fetch runs per endpoint.
type FetchHealthSummary struct {
	Source      string `json:"source"`
	Endpoint    string `json:"endpoint"`
	TotalRuns   int    `json:"totalRuns"`
	SuccessRuns int    `json:"successRuns"`
	FailedRuns  int    `json:"failedRuns"`
}

// GetFetchHealth summarises runs started after since.
func (s *Store) GetFetchHealth(since time.Time) ([]FetchHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			source,
			endpoint,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs
		FROM fetch_runs
		WHERE started_at >= ?
		GROUP BY source, endpoint
		ORDER BY source, endpoint
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchHealthSummary
	for rows.Next() {
		var h FetchHealthSummary
		if err := rows.Scan(&h.Source, &h.Endpoint, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentFetchErrors returns the most recent failed runs.
func (s *Store) GetRecentFetchErrors(limit int) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint, query,
			   http_status, response_size_bytes, records_parsed, success, error_message
		FROM fetch_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint, &r.Query,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
