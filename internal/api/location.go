package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lastmile/internal/model"
)

// LocationCache keeps the latest reported position per courier and rate-limits
// ingestion per device. History belongs in a time-series store, not here.
type LocationCache struct {
	mu       sync.Mutex
	latest   map[string]model.LocationUpdate
	limiters map[string]*rate.Limiter
}

func NewLocationCache() *LocationCache {
	return &LocationCache{
		latest:   map[string]model.LocationUpdate{},
		limiters: map[string]*rate.Limiter{},
	}
}

// Allow reports whether this courier may post another update now. Devices
// upload at most every few seconds even in high cadence, so 1/sec with a
// small burst absorbs clock jitter without admitting floods.
func (c *LocationCache) Allow(courierID string) bool {
	c.mu.Lock()
	lim := c.limiters[courierID]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(time.Second), 3)
		c.limiters[courierID] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}

func (c *LocationCache) Put(u model.LocationUpdate) {
	c.mu.Lock()
	c.latest[u.CourierID] = u
	c.mu.Unlock()
}

func (c *LocationCache) Latest(courierID string) (model.LocationUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.latest[courierID]
	return u, ok
}

// LocationHandler handles POST/GET /v1/couriers/{id}/location
func (s *Server) LocationHandler(w http.ResponseWriter, r *http.Request, courierID string) {
	switch r.Method {
	case http.MethodPost:
		if !s.Locations.Allow(courierID) {
			writeProblem(w, http.StatusTooManyRequests, "Rate limited", "location uploads are throttled", r.URL.Path)
			return
		}
		var u model.LocationUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		u.CourierID = courierID
		if u.TS == "" {
			u.TS = time.Now().UTC().Format(time.RFC3339)
		}
		s.Locations.Put(u)
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	case http.MethodGet:
		u, ok := s.Locations.Latest(courierID)
		if !ok {
			writeProblem(w, http.StatusNotFound, "No location reported", courierID, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, u)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
