// Package store is the persistence boundary. Two implementations exist: an
// in-memory store for tests and single-node dev, and Postgres for real
// deployments. The back office runs against multiple schema generations at
// once, so every write path consults a capability probe and degrades to an
// equivalent write when an optional column is missing.
package store

import (
	"context"
	"errors"
	"time"

	"lastmile/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Capabilities describes which optional columns the current schema
// generation carries. Probed once per process and cached.
type Capabilities struct {
	// LedgerTrackingNo: ledger rows have the tracking-number correlation
	// column. Without it the tracking number is embedded in the note.
	LedgerTrackingNo bool
	// ParcelBizLine: parcels carry the business-line discriminator.
	ParcelBizLine bool
}

// Store is the persistence interface used by the API server and the
// consistency syncer.
type Store interface {
	Capabilities(ctx context.Context) Capabilities

	// Parcels
	CreateParcel(ctx context.Context, p model.Parcel) (model.Parcel, error)
	GetParcel(ctx context.Context, trackingNo string) (model.Parcel, error)
	ListParcelsByCourier(ctx context.Context, courierID string, statuses []model.Status) ([]model.Parcel, error)
	// SetParcelStatus overwrites the status (idempotent, never
	// insert-and-fail). A Delivered status stamps DeliveredAt when unset.
	SetParcelStatus(ctx context.Context, trackingNo string, st model.Status, at time.Time) error
	AssignParcel(ctx context.Context, trackingNo, courierID string) error

	// Ledger
	CreateLedgerEntry(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error)
	UpdateLedgerEntry(ctx context.Context, e model.LedgerEntry) error
	// LedgerByTrackingNo matches on the correlation column only; note-scan
	// fallback lives in the consistency package.
	LedgerByTrackingNo(ctx context.Context, trackingNo string) (model.LedgerEntry, error)
	// ScanLedgerNotes returns entries whose free-text note contains needle.
	ScanLedgerNotes(ctx context.Context, needle string) ([]model.LedgerEntry, error)
	SetLedgerStatus(ctx context.Context, id string, st model.Status) error

	// Manifests & memberships
	CreateManifest(ctx context.Context, m model.FreightManifest) (model.FreightManifest, error)
	GetManifest(ctx context.Context, id string) (model.FreightManifest, error)
	// LatestManifestByFreightNo returns the newest manifest carrying the
	// human-assigned number; freight numbers are reused across time.
	LatestManifestByFreightNo(ctx context.Context, freightNo string) (model.FreightManifest, error)
	AppendTransit(ctx context.Context, manifestID string, rec model.TransitRecord) error
	MarkManifestArrived(ctx context.Context, manifestID string, at time.Time) error
	// UpsertMembership is keyed by (manifest, tracking number); re-running
	// with the same pair is a no-op, never an error.
	UpsertMembership(ctx context.Context, manifestID, trackingNo string) (inserted bool, err error)
	ListMemberships(ctx context.Context, manifestID string) ([]model.ManifestMembership, error)
	DeleteMembership(ctx context.Context, manifestID, trackingNo string) error

	// Anomaly reports
	CreateAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error)
	ListAnomalies(ctx context.Context, trackingNo string) ([]model.AnomalyReport, error)

	// Couriers
	GetCourier(ctx context.Context, id string) (model.Courier, error)
	SaveCourier(ctx context.Context, c model.Courier) error
}
