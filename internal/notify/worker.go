package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"lastmile/internal/metrics"
)

// Worker drains the delivery queue in the background.
type Worker struct {
	Queue       *Queue
	HTTP        *http.Client
	MaxAttempts int
	stop        chan struct{}
}

func NewWorker(q *Queue) *Worker {
	return &Worker{
		Queue:       q,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: 10,
		stop:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) Stop() { close(w.stop) }

func (w *Worker) processOnce() {
	now := time.Now()
	for _, d := range w.Queue.due(now, 50) {
		req, err := http.NewRequest(http.MethodPost, d.URL, bytes.NewReader(d.Payload))
		if err != nil {
			w.Queue.mark(d.ID, false, now.Add(nextBackoff(d.Attempts)), err.Error(), w.MaxAttempts)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", d.EventType)
		if d.Secret != "" {
			req.Header.Set("X-Signature", SignHMAC(d.Secret, d.Payload))
		}
		success := false
		lastErr := ""
		resp, err := w.HTTP.Do(req)
		if err != nil {
			lastErr = err.Error()
		} else {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			success = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
		status := "failed"
		if success {
			status = "delivered"
		}
		metrics.WebhookDeliveries.WithLabelValues(status).Inc()
		w.Queue.mark(d.ID, success, now.Add(nextBackoff(d.Attempts)), lastErr, w.MaxAttempts)
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}

// SignHMAC returns the hex HMAC-SHA256 of body under secret.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
