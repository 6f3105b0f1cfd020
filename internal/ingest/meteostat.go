package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/lox/kasselweather/internal/htmlutil"
	"github.com/lox/kasselweather/internal/httputil"
	"github.com/lox/kasselweather/internal/metrics"
	"github.com/lox/kasselweather/internal/models"
	"github.com/lox/kasselweather/internal/store"
)

const (
	DefaultBaseURL     = "https://meteostat.p.rapidapi.com"
	DefaultHost        = "meteostat.p.rapidapi.com"
	DefaultNearbyLimit = 10

	// Meteostat rejects point requests spanning more than these windows.
	dailyWindowYears   = 1
	monthlyWindowYears = 10
)

var (
	ErrNoAPIKey        = errors.New("meteostat: no API key configured")
	ErrStationNotFound = errors.New("meteostat: station not found")
	ErrRateLimited     = errors.New("meteostat: rate limited")
)

// Recorder receives an audit record for every remote call.
type Recorder interface {
	RecordFetchRun(run store.FetchRun) error
}

type MeteostatConfig struct {
	APIKey      string
	BaseURL     string
	Host        string
	Timeout     time.Duration
	Retries     int // extra attempts after the first; 0 disables retrying
	NearbyLimit int
}

// Meteostat is a client for the Meteostat JSON API. It satisfies
// stations.Directory and weather.Source.
type Meteostat struct {
	cfg      MeteostatConfig
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	recorder Recorder
}

func NewMeteostat(cfg MeteostatConfig, recorder Recorder) *Meteostat {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.NearbyLimit <= 0 {
		cfg.NearbyLimit = DefaultNearbyLimit
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meteostat",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("meteostat: circuit %s %s -> %s", name, from, to)
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests)
		},
	})

	return &Meteostat{
		cfg:      cfg,
		client:   httputil.NewClient(cfg.Timeout),
		breaker:  cb,
		recorder: recorder,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// Nearby lists stations close to the given coordinates. Stations whose
// metadata cannot be fetched are skipped.
func (m *Meteostat) Nearby(ctx context.Context, lat, lon float64) ([]models.Station, error) {
	q := url.Values{}
	q.Set("lat", formatCoord(lat))
	q.Set("lon", formatCoord(lon))
	q.Set("limit", strconv.Itoa(m.cfg.NearbyLimit))

	body, err := m.get(ctx, "stations/nearby", q)
	if err != nil {
		return nil, fmt.Errorf("nearby stations: %w", err)
	}

	var result []models.Station
	for _, entry := range gjson.GetBytes(body, "data").Array() {
		id := entry.Get("id").String()
		if id == "" {
			continue
		}
		st, err := m.Station(ctx, id)
		if err != nil {
			log.Printf("meteostat: skipping station %s: %v", id, err)
			continue
		}
		if st.Name == id {
			if name := stationName(entry.Get("name")); name != "" {
				st.Name = name
			}
		}
		result = append(result, st)
	}
	return result, nil
}

// Station fetches metadata for one station.
func (m *Meteostat) Station(ctx context.Context, id string) (models.Station, error) {
	q := url.Values{}
	q.Set("id", id)

	body, err := m.get(ctx, "stations/meta", q)
	if err != nil {
		return models.Station{}, fmt.Errorf("station meta: %w", err)
	}
	return parseStation(id, body)
}

func parseStation(id string, body []byte) (models.Station, error) {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return models.Station{}, fmt.Errorf("%w: %s", ErrStationNotFound, id)
	}

	loc := data.Get("location")
	lat, lon := loc.Get("latitude"), loc.Get("longitude")
	if lat.Type != gjson.Number || lon.Type != gjson.Number {
		return models.Station{}, fmt.Errorf("station %s: missing coordinates", id)
	}

	st := models.Station{
		ID:        id,
		Name:      stationName(data.Get("name")),
		Latitude:  lat.Float(),
		Longitude: lon.Float(),
	}
	if st.Name == "" {
		st.Name = id
	}
	if elev := loc.Get("elevation"); elev.Type == gjson.Number {
		st.Elevation = sql.NullFloat64{Float64: elev.Float(), Valid: true}
	}
	return st, nil
}

// stationName prefers the English name, then the German one, then whatever
// language the provider sent.
func stationName(name gjson.Result) string {
	if name.Type == gjson.String {
		return name.String()
	}
	for _, lang := range []string{"en", "de"} {
		if v := name.Get(lang).String(); v != "" {
			return v
		}
	}
	var first string
	name.ForEach(func(_, value gjson.Result) bool {
		first = value.String()
		return first == ""
	})
	return first
}

// Daily fetches daily observations for a point, inclusive of both dates.
func (m *Meteostat) Daily(ctx context.Context, pt models.Point, start, end time.Time) (models.Table, error) {
	return m.point(ctx, "point/daily", models.Daily, dailyWindowYears, pt, start, end)
}

// Monthly fetches monthly aggregates for a point, inclusive of both dates.
func (m *Meteostat) Monthly(ctx context.Context, pt models.Point, start, end time.Time) (models.Table, error) {
	return m.point(ctx, "point/monthly", models.Monthly, monthlyWindowYears, pt, start, end)
}

func (m *Meteostat) point(ctx context.Context, endpoint string, g models.Granularity, windowYears int, pt models.Point, start, end time.Time) (models.Table, error) {
	tbl := models.Table{Granularity: g}
	seen := make(map[models.Column]bool)

	for _, w := range windows(models.Date(start), models.Date(end), windowYears) {
		q := url.Values{}
		q.Set("lat", formatCoord(pt.Latitude))
		q.Set("lon", formatCoord(pt.Longitude))
		if pt.Elevation.Valid {
			q.Set("alt", strconv.Itoa(int(pt.Elevation.Float64)))
		}
		q.Set("start", w[0].Format("2006-01-02"))
		q.Set("end", w[1].Format("2006-01-02"))

		body, err := m.get(ctx, endpoint, q)
		if err != nil {
			return models.Table{}, fmt.Errorf("%s %s..%s: %w", endpoint, q.Get("start"), q.Get("end"), err)
		}
		rows, err := parseRows(body, seen)
		if err != nil {
			return models.Table{}, fmt.Errorf("%s: %w", endpoint, err)
		}
		tbl.Rows = append(tbl.Rows, rows...)
	}

	for _, c := range models.AllColumns {
		if seen[c] {
			tbl.Columns = append(tbl.Columns, c)
		}
	}
	if len(tbl.Columns) == 0 {
		tbl.Columns = models.EmptyTable(g).Columns
	}

	flagged := 0
	for i := range tbl.Rows {
		if flags := ValidateObservation(&tbl.Rows[i], g); len(flags) > 0 {
			flagged++
		}
	}
	if flagged > 0 {
		log.Printf("meteostat: %d of %d %s rows have implausible values", flagged, len(tbl.Rows), g)
	}
	return tbl, nil
}

// parseRows converts the data array of a point response. Keys present in any
// row are added to seen; null values stay absent.
func parseRows(body []byte, seen map[models.Column]bool) ([]models.Observation, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON")
	}

	var rows []models.Observation
	var parseErr error
	gjson.GetBytes(body, "data").ForEach(func(_, row gjson.Result) bool {
		var obs models.Observation
		row.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if name == "date" {
				d, err := parseDate(value.String())
				if err != nil {
					parseErr = err
					return false
				}
				obs.Date = d
				return true
			}
			col, ok := knownColumn(name)
			if !ok {
				return true
			}
			seen[col] = true
			if value.Type == gjson.Number {
				obs.Set(col, sql.NullFloat64{Float64: value.Float(), Valid: true})
			}
			return true
		})
		if parseErr != nil {
			return false
		}
		rows = append(rows, obs)
		return true
	})
	return rows, parseErr
}

func knownColumn(name string) (models.Column, bool) {
	for _, c := range models.AllColumns {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q", s)
}

// windows splits [start, end] into consecutive inclusive ranges of at most
// the given number of years.
func windows(start, end time.Time, years int) [][2]time.Time {
	var out [][2]time.Time
	for from := start; !from.After(end); {
		to := from.AddDate(years, 0, -1)
		if to.After(end) {
			to = end
		}
		out = append(out, [2]time.Time{from, to})
		from = to.AddDate(0, 0, 1)
	}
	return out
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func (m *Meteostat) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	if m.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	u := fmt.Sprintf("%s/%s?%s", m.cfg.BaseURL, endpoint, q.Encode())
	run := store.FetchRun{
		StartedAt: time.Now().UTC(),
		Source:    "meteostat",
		Endpoint:  endpoint,
		Query:     sql.NullString{String: q.Encode(), Valid: true},
	}

	var body []byte
	operation := func() error {
		start := time.Now()
		result, err := m.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("x-rapidapi-key", m.cfg.APIKey)
			req.Header.Set("x-rapidapi-host", m.cfg.Host)

			resp, err := m.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			run.HTTPStatus = sql.NullInt64{Int64: int64(resp.StatusCode), Valid: true}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, &statusError{code: resp.StatusCode, body: truncateBody(htmlutil.ErrorText(resp.Header.Get("Content-Type"), b))}
			}
			return b, nil
		})
		metrics.MeteostatAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			var se *statusError
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
				return backoff.Permanent(err)
			case errors.As(err, &se) && se.code == http.StatusTooManyRequests:
				metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
				return fmt.Errorf("%w: %v", ErrRateLimited, err)
			case errors.As(err, &se) && se.code < 500:
				metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
				return backoff.Permanent(err)
			case ctx.Err() != nil:
				metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
				return backoff.Permanent(ctx.Err())
			}
			metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
			return err
		}

		body = result.([]byte)
		metrics.MeteostatAPICallsTotal.WithLabelValues(endpoint, "success").Inc()
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.cfg.Retries)), ctx)
	err := backoff.Retry(operation, bo)

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(body)), Valid: true}
		run.RecordsParsed = sql.NullInt64{Int64: gjson.GetBytes(body, "data.#").Int(), Valid: true}
	}
	m.record(run)

	if err != nil {
		return nil, err
	}
	return body, nil
}

func (m *Meteostat) record(run store.FetchRun) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordFetchRun(run); err != nil {
		log.Printf("meteostat: record fetch run: %v", err)
	}
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "...(truncated)"
}
