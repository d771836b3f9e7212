// Package main runs a headless courier agent: it keeps the offline task
// cache in sync over WebSocket, runs the adaptive location tracker against a
// simulated sensor, and logs proximity alerts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"lastmile/internal/field"
	"lastmile/internal/lifecycle"
	"lastmile/internal/model"
)

func main() {
	_ = godotenv.Load()

	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	courierID := os.Getenv("COURIER_ID")
	if courierID == "" {
		courierID = "c_demo"
	}

	client := &apiClient{base: base, courierID: courierID, http: &http.Client{Timeout: 10 * time.Second}}
	cache := field.NewTaskCache()
	tracker := field.NewTracker(&simSampler{}, client, courierID)

	gate := field.NewGate(nil)
	tracker.OnPosition = func(pt model.GeoPoint) {
		for _, p := range cache.Snapshot() {
			if p.Status == model.StatusPendingPickup && gate.NearPickup(pt, p) {
				log.Printf("近距离提醒: %s 取件点在附近", p.TrackingNo)
			}
		}
	}

	refresh := func() {
		list, err := client.FetchTasks(context.Background())
		if err != nil {
			if cache.SetOnline(false) {
				log.Printf("refresh queued for reconnect")
			}
			log.Printf("task refresh failed: %v", err)
			return
		}
		if cache.SetOnline(true) {
			log.Printf("back online")
		}
		cache.ApplyServerList(list)
		active := 0
		for _, p := range cache.Snapshot() {
			if !lifecycle.Terminal(p.Status) {
				active++
			}
		}
		if err := tracker.SetState(true, active); err != nil {
			log.Printf("tracker: %v", err)
		}
	}

	refresh()
	if err := tracker.Start(); err != nil {
		log.Fatalf("tracker start: %v", err)
	}
	defer tracker.Stop()

	// WebSocket event loop with reconnect; every event is only a refresh
	// trigger, collapsed inside the cache.
	go func() {
		for {
			if err := client.StreamEvents(func(ev model.ChangeEvent) {
				if cache.HandleEvent(ev) {
					refresh()
				}
			}); err != nil {
				log.Printf("ws: %v; reconnecting", err)
			}
			cache.SetOnline(false)
			time.Sleep(3 * time.Second)
			if cache.SetOnline(true) {
				refresh()
			}
		}
	}()

	// Periodic fallback refresh in case events are missed.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-sig:
			log.Printf("shutting down")
			return
		}
	}
}

// apiClient talks to the coordination API on behalf of one courier.
type apiClient struct {
	base      string
	courierID string
	http      *http.Client
}

func (c *apiClient) FetchTasks(ctx context.Context) ([]model.Parcel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/parcels?courierId="+url.QueryEscape(c.courierID), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch tasks: status %d", resp.StatusCode)
	}
	var out struct {
		Items []model.Parcel `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *apiClient) UploadLocation(ctx context.Context, upd model.LocationUpdate) error {
	body, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/v1/couriers/"+url.PathEscape(c.courierID)+"/location", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("upload: status %d", resp.StatusCode)
	}
	return nil
}

// StreamEvents blocks reading ChangeEvents until the connection drops.
func (c *apiClient) StreamEvents(fn func(model.ChangeEvent)) error {
	wsURL := strings.Replace(c.base, "http", "ws", 1) +
		"/v1/couriers/" + url.PathEscape(c.courierID) + "/ws"
	hdr := http.Header{}
	c.authorize(hdr)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	for {
		var ev model.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		fn(ev)
	}
}

func (c *apiClient) authorize(h http.Header) {
	if tok := os.Getenv("COURIER_TOKEN"); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
		return
	}
	h.Set("X-Role", "courier")
	h.Set("X-Courier-Id", c.courierID)
}

// simSampler emits a slow circular walk at the requested cadence, standing in
// for a platform location API.
type simSampler struct{}

type simSub struct{ stop chan struct{} }

func (s *simSub) Stop() { close(s.stop) }

func (s *simSampler) Start(cfg field.SamplingConfig, fn func(field.Fix)) (field.Subscription, error) {
	sub := &simSub{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(cfg.MinInterval)
		defer ticker.Stop()
		t := 0.0
		for {
			select {
			case <-sub.stop:
				return
			case now := <-ticker.C:
				t += 0.02
				fn(field.Fix{
					Point: model.GeoPoint{
						Lat: 16.8409 + 0.002*math.Sin(t),
						Lng: 96.1735 + 0.002*math.Cos(t),
					},
					SpeedMPS: 1.2,
					At:       now,
				})
			}
		}
	}()
	return sub, nil
}
