package stations

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/lox/kasselweather/internal/metrics"
	"github.com/lox/kasselweather/internal/models"
)

// Directory is the remote station catalogue.
type Directory interface {
	Nearby(ctx context.Context, lat, lon float64) ([]models.Station, error)
	Station(ctx context.Context, id string) (models.Station, error)
}

// Resolution is the outcome of a station lookup. When Fallback is set the
// stations come from the built-in list and Warning says why.
type Resolution struct {
	Stations []models.Station `json:"stations"`
	Fallback bool             `json:"fallback"`
	Warning  string           `json:"warning,omitempty"`
}

// fallbackStations keeps the dashboard usable when the directory is down.
var fallbackStations = []models.Station{
	{ID: "10438", Name: "Kassel-Calden"},
	{ID: "10439", Name: "Fritzlar"},
	{ID: "03164", Name: "Kassel"},
}

// Fallback returns a copy of the built-in station list.
func Fallback() []models.Station {
	out := make([]models.Station, len(fallbackStations))
	copy(out, fallbackStations)
	return out
}

// Resolver finds stations near a fixed target and remembers the answer.
type Resolver struct {
	dir    Directory
	target models.Point

	mu     sync.Mutex
	cached *Resolution
}

func NewResolver(dir Directory, target models.Point) *Resolver {
	return &Resolver{dir: dir, target: target}
}

// Resolve returns stations sorted by distance from the target. It never fails:
// lookup errors or an empty answer produce the fallback list. Successful
// lookups are kept for the life of the process.
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return r.cached.copy()
	}
	res := r.fetch(ctx)
	if !res.Fallback {
		r.cached = &res
	}
	return res.copy()
}

// Refresh queries the directory again. A failed refresh keeps the previously
// remembered list; the fallback is only returned when there is none.
func (r *Resolver) Refresh(ctx context.Context) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.fetch(ctx)
	if !res.Fallback {
		r.cached = &res
		return res.copy()
	}
	if r.cached != nil {
		log.Printf("stations: refresh failed, keeping %d known stations", len(r.cached.Stations))
		return r.cached.copy()
	}
	return res.copy()
}

// Lookup fetches a single station and fills in its distance from the target.
func (r *Resolver) Lookup(ctx context.Context, id string) (models.Station, error) {
	st, err := r.dir.Station(ctx, id)
	if err != nil {
		return models.Station{}, fmt.Errorf("lookup station %s: %w", id, err)
	}
	st.Distance = sql.NullFloat64{Float64: Haversine(r.target.Latitude, r.target.Longitude, st.Latitude, st.Longitude), Valid: true}
	return st, nil
}

func (r *Resolver) fetch(ctx context.Context) Resolution {
	found, err := r.dir.Nearby(ctx, r.target.Latitude, r.target.Longitude)
	if err != nil {
		log.Printf("stations: nearby lookup failed, using fallback: %v", err)
		metrics.StationFallbacks.WithLabelValues("error").Inc()
		return Resolution{
			Stations: Fallback(),
			Fallback: true,
			Warning:  fmt.Sprintf("station lookup failed: %v", err),
		}
	}
	if len(found) == 0 {
		log.Println("stations: nearby lookup returned no stations, using fallback")
		metrics.StationFallbacks.WithLabelValues("empty").Inc()
		return Resolution{
			Stations: Fallback(),
			Fallback: true,
			Warning:  "no stations found near the target",
		}
	}

	for i := range found {
		d := Haversine(r.target.Latitude, r.target.Longitude, found[i].Latitude, found[i].Longitude)
		found[i].Distance = sql.NullFloat64{Float64: d, Valid: true}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Distance.Float64 < found[j].Distance.Float64
	})
	log.Printf("stations: found %d stations", len(found))
	return Resolution{Stations: found}
}

func (r Resolution) copy() Resolution {
	out := r
	out.Stations = make([]models.Station, len(r.Stations))
	copy(out.Stations, r.Stations)
	return out
}

// Haversine calculates the great-circle distance in km between two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth radius in km

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
