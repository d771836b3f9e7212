package model

import "time"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Status is the canonical parcel status vocabulary. Upstream systems send
// free-text variants; lifecycle.Normalize maps those onto these values.
type Status string

const (
	// Back-office track.
	StatusOrdered        Status = "ordered"
	StatusPendingPrepay  Status = "pending_prepay"
	StatusPrepaid        Status = "prepaid"
	StatusInbound        Status = "inbound"
	StatusInTransit      Status = "in_transit"
	StatusPendingReceipt Status = "pending_receipt"
	StatusSigned         Status = "signed"
	StatusCancelled      Status = "cancelled"

	// Field track (courier-visible projection while out for delivery).
	StatusPendingPickup   Status = "pending_pickup"
	StatusPickedUp        Status = "picked_up"
	StatusDelivering      Status = "delivering"
	StatusDelivered       Status = "delivered"
	StatusAnomalyReported Status = "anomaly_reported"
)

// BizLine discriminates the two business lines a parcel can belong to.
type BizLine string

const (
	BizCity        BizLine = "city"
	BizCrossBorder BizLine = "cross-border"
)

// Parcel is the canonical back-office record of one shipment.
type Parcel struct {
	ID             string     `json:"id"`
	TrackingNo     string     `json:"trackingNo"`
	Sender         string     `json:"sender,omitempty"`
	SenderPhone    string     `json:"senderPhone,omitempty"`
	Receiver       string     `json:"receiver,omitempty"`
	ReceiverPhone  string     `json:"receiverPhone,omitempty"`
	PickupAddress  string     `json:"pickupAddress,omitempty"`
	PickupPoint    *GeoPoint  `json:"pickupPoint,omitempty"`
	DeliverAddress string     `json:"deliverAddress,omitempty"`
	DeliverPoint   *GeoPoint  `json:"deliverPoint,omitempty"`
	BizLine        BizLine    `json:"bizLine,omitempty"`
	Fee            float64    `json:"fee"`
	Quantity       int        `json:"quantity,omitempty"`
	Expedited      bool       `json:"expedited,omitempty"`
	CourierID      string     `json:"courierId,omitempty"`
	Status         Status     `json:"status"`
	RawStatus      string     `json:"rawStatus,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	InboundAt      *time.Time `json:"inboundAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	SignedAt       *time.Time `json:"signedAt,omitempty"`
}

// LedgerKind distinguishes income from expense entries.
type LedgerKind string

const (
	LedgerIncome  LedgerKind = "income"
	LedgerExpense LedgerKind = "expense"
)

// LedgerEntry is a financial record loosely correlated to a parcel. The
// correlation key is best-effort: older rows predate it and carry the
// tracking number only inside the free-text note.
type LedgerEntry struct {
	ID         string     `json:"id"`
	Kind       LedgerKind `json:"kind"`
	Category   string     `json:"category"`
	Amount     float64    `json:"amount"`
	Status     Status     `json:"status"`
	TrackingNo string     `json:"trackingNo,omitempty"`
	Note       string     `json:"note,omitempty"`
	Receiver   string     `json:"receiver,omitempty"`
	DestSnap   string     `json:"destSnap,omitempty"`
	Void       bool       `json:"void,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TransitRecord is one checkpoint in a manifest's transit history.
type TransitRecord struct {
	Location      string    `json:"location"`
	TS            time.Time `json:"ts"`
	NextFreightNo string    `json:"nextFreightNo,omitempty"`
}

// FreightManifest groups parcels moving together between two points.
// FreightNo is human-assigned and only unique per generation; lookups pick
// the latest manifest carrying the number.
type FreightManifest struct {
	ID          string          `json:"id"`
	FreightNo   string          `json:"freightNo"`
	Vehicle     string          `json:"vehicle,omitempty"`
	Destination string          `json:"destination,omitempty"`
	DepartAt    *time.Time      `json:"departAt,omitempty"`
	ArriveAt    *time.Time      `json:"arriveAt,omitempty"`
	Transits    []TransitRecord `json:"transits,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ManifestMembership binds one parcel to at most one active manifest.
type ManifestMembership struct {
	ManifestID string    `json:"manifestId"`
	TrackingNo string    `json:"trackingNo"`
	AddedAt    time.Time `json:"addedAt"`
}

// AnomalyReport records a real-world exception filed by a courier, or an
// automatic filing when a mocked location is detected.
type AnomalyReport struct {
	ID         string         `json:"id"`
	TrackingNo string         `json:"trackingNo"`
	CourierID  string         `json:"courierId"`
	Reason     string         `json:"reason"`
	Automatic  bool           `json:"automatic,omitempty"`
	Device     map[string]any `json:"device,omitempty"`
	Position   *GeoPoint      `json:"position,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Courier is the server-side view of a field courier.
type Courier struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	TrustScore int    `json:"trustScore"`
	Online     bool   `json:"online"`
}

// SyncReport is returned by every batch consistency operation. Parcel and
// ledger counts can legitimately differ (e.g. synthesized entries).
type SyncReport struct {
	Parcels       int `json:"parcels"`
	LedgerEntries int `json:"ledgerEntries"`
}

// ChangeEvent is a realtime notification about one parcel assigned to a
// courier. Delivery is at-least-once; consumers must treat it as a refresh
// trigger, never as the source of truth.
type ChangeEvent struct {
	Op         string `json:"op"` // insert, update, delete
	TrackingNo string `json:"trackingNo"`
	CourierID  string `json:"courierId,omitempty"`
	Status     Status `json:"status,omitempty"`
	TS         string `json:"ts"`
}

// LocationUpdate is a throttled position upload from a courier device.
type LocationUpdate struct {
	CourierID string  `json:"courierId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	SpeedMPS  float64 `json:"speedMps,omitempty"`
	TS        string  `json:"ts"`
}
