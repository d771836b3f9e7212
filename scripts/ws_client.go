// Package main runs a demo WebSocket client for courier parcel events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	courierID := "c_demo"

	// Seed a courier and a parcel, then assign it so events flow.
	doJSON(http.MethodPut, base+"/v1/couriers/"+courierID, `{"name":"Demo","trustScore":90}`)
	doJSON(http.MethodPost, base+"/v1/parcels",
		`{"trackingNo":"TN-DEMO-1","senderAddress":"downtown","receiverAddress":"uptown","fee":1500,"deliverPoint":{"lat":16.84,"lng":96.17}}`)

	// Connect WS before triggering changes.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/couriers/" + courierID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "courier")
	hdr.Set("X-Courier-Id", courierID)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", msg)
		}
	}()

	// Accept triggers an update event on this courier's channel.
	time.Sleep(500 * time.Millisecond)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/parcels/TN-DEMO-1/accept", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "courier")
	req.Header.Set("X-Courier-Id", courierID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	log.Printf("accept -> %d %v", resp.StatusCode, body)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func doJSON(method, u, body string) {
	req, _ := http.NewRequest(method, u, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("%s %s -> %d", method, u, resp.StatusCode)
}
