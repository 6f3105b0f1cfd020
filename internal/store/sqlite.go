package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lox/kasselweather/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Session is the per-visitor dashboard state: the chosen year range and
// station plus the two tables loaded for them.
type Session struct {
	ID              string
	StartYear       int
	EndYear         int
	StationID       sql.NullString
	StationFallback bool
	Daily           models.Table
	Monthly         models.Table
	UpdatedAt       time.Time
}

// SaveSession replaces everything stored for the session.
func (s *Store) SaveSession(sess Session) error {
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, start_year, end_year, station_id, station_fallback, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_year = excluded.start_year,
			end_year = excluded.end_year,
			station_id = excluded.station_id,
			station_fallback = excluded.station_fallback,
			updated_at = excluded.updated_at
	`, sess.ID, sess.StartYear, sess.EndYear, sess.StationID, sess.StationFallback, sess.UpdatedAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM session_rows WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM session_tables WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}

	for _, tbl := range []models.Table{sess.Daily, sess.Monthly} {
		if tbl.Granularity == "" {
			continue
		}
		if err := insertTable(tx, sess.ID, tbl); err != nil {
			return fmt.Errorf("insert %s table: %w", tbl.Granularity, err)
		}
	}

	return tx.Commit()
}

func insertTable(tx *sql.Tx, sessionID string, tbl models.Table) error {
	if _, err := tx.Exec(`
		INSERT INTO session_tables (session_id, granularity, columns) VALUES (?, ?, ?)
	`, sessionID, string(tbl.Granularity), joinColumns(tbl.Columns)); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO session_rows (session_id, granularity, date, tavg, tmin, tmax, prcp, wspd, wpgt, pres, tsun)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, granularity, date) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range tbl.Rows {
		if _, err := stmt.Exec(sessionID, string(tbl.Granularity), r.Date.Format("2006-01-02"),
			r.TAvg, r.TMin, r.TMax, r.Prcp, r.Wspd, r.Wpgt, r.Pres, r.Tsun); err != nil {
			return err
		}
	}
	return nil
}

// GetSession returns nil when the session does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, start_year, end_year, station_id, station_fallback, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.StartYear, &sess.EndYear, &sess.StationID, &sess.StationFallback, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tables, err := s.getTables(id)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if t, ok := tables[models.Daily]; ok {
		sess.Daily = t
	} else {
		sess.Daily = models.EmptyTable(models.Daily)
	}
	if t, ok := tables[models.Monthly]; ok {
		sess.Monthly = t
	} else {
		sess.Monthly = models.EmptyTable(models.Monthly)
	}
	return &sess, nil
}

func (s *Store) getTables(sessionID string) (map[models.Granularity]models.Table, error) {
	rows, err := s.db.Query(`SELECT granularity, columns FROM session_tables WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	tables := make(map[models.Granularity]models.Table)
	for rows.Next() {
		var g, cols string
		if err := rows.Scan(&g, &cols); err != nil {
			rows.Close()
			return nil, err
		}
		tables[models.Granularity(g)] = models.Table{Granularity: models.Granularity(g), Columns: splitColumns(cols)}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for g, tbl := range tables {
		obs, err := s.getRows(sessionID, g)
		if err != nil {
			return nil, err
		}
		tbl.Rows = obs
		tables[g] = tbl
	}
	return tables, nil
}

func (s *Store) getRows(sessionID string, g models.Granularity) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT date, tavg, tmin, tmax, prcp, wspd, wpgt, pres, tsun
		FROM session_rows
		WHERE session_id = ? AND granularity = ?
		ORDER BY date
	`, sessionID, string(g))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []models.Observation
	for rows.Next() {
		var o models.Observation
		var date string
		if err := rows.Scan(&date, &o.TAvg, &o.TMin, &o.TMax, &o.Prcp, &o.Wspd, &o.Wpgt, &o.Pres, &o.Tsun); err != nil {
			return nil, err
		}
		d, err := parseDate(date)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		o.Date = d
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// DeleteSessionsBefore removes sessions not updated since cutoff and returns
// how many were removed.
func (s *Store) DeleteSessionsBefore(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stale := `SELECT id FROM sessions WHERE updated_at < ?`
	if _, err := tx.Exec(`DELETE FROM session_rows WHERE session_id IN (`+stale+`)`, cutoff.UTC()); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM session_tables WHERE session_id IN (`+stale+`)`, cutoff.UTC()); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func joinColumns(cols []models.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitColumns(s string) []models.Column {
	if s == "" {
		return []models.Column{}
	}
	parts := strings.Split(s, ",")
	cols := make([]models.Column, len(parts))
	for i, p := range parts {
		cols[i] = models.Column(p)
	}
	return cols
}

// sqlite hands DATE columns back either as text or as a timestamp string
// depending on how they were written.
func parseDate(s string) (time.Time, error) {
	if len(s) >= 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}
