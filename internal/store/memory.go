package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lastmile/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set and in
// tests. Caps can be narrowed in tests to exercise the fallback write
// paths against a legacy schema shape.
type Memory struct {
	mu          sync.Mutex
	Caps        Capabilities
	parcels     map[string]model.Parcel      // trackingNo -> parcel
	ledger      map[string]model.LedgerEntry // id -> entry
	manifests   map[string]model.FreightManifest
	members     map[string]map[string]model.ManifestMembership // manifestID -> trackingNo -> row
	anomalies   map[string][]model.AnomalyReport               // trackingNo -> reports
	couriers    map[string]model.Courier
	manifestSeq []string // creation order, for latest-by-freight-no
}

func NewMemory() *Memory {
	return &Memory{
		Caps:      Capabilities{LedgerTrackingNo: true, ParcelBizLine: true},
		parcels:   map[string]model.Parcel{},
		ledger:    map[string]model.LedgerEntry{},
		manifests: map[string]model.FreightManifest{},
		members:   map[string]map[string]model.ManifestMembership{},
		anomalies: map[string][]model.AnomalyReport{},
		couriers:  map[string]model.Courier{},
	}
}

func (m *Memory) Capabilities(ctx context.Context) Capabilities { return m.Caps }

func (m *Memory) CreateParcel(ctx context.Context, p model.Parcel) (model.Parcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parcels[p.TrackingNo]; ok {
		return model.Parcel{}, ErrDuplicate
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = model.StatusOrdered
	}
	if !m.Caps.ParcelBizLine {
		p.BizLine = ""
	}
	m.parcels[p.TrackingNo] = p
	return p, nil
}

func (m *Memory) GetParcel(ctx context.Context, trackingNo string) (model.Parcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[trackingNo]
	if !ok {
		return model.Parcel{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListParcelsByCourier(ctx context.Context, courierID string, statuses []model.Status) ([]model.Parcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[model.Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	out := []model.Parcel{}
	for _, p := range m.parcels {
		if p.CourierID != courierID {
			continue
		}
		if len(want) > 0 && !want[p.Status] {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNo < out[j].TrackingNo })
	return out, nil
}

func (m *Memory) SetParcelStatus(ctx context.Context, trackingNo string, st model.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[trackingNo]
	if !ok {
		return ErrNotFound
	}
	p.Status = st
	switch st {
	case model.StatusInbound:
		if p.InboundAt == nil {
			p.InboundAt = &at
		}
	case model.StatusDelivered:
		if p.DeliveredAt == nil {
			p.DeliveredAt = &at
		}
	case model.StatusSigned:
		if p.SignedAt == nil {
			p.SignedAt = &at
		}
	}
	m.parcels[trackingNo] = p
	return nil
}

func (m *Memory) AssignParcel(ctx context.Context, trackingNo, courierID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[trackingNo]
	if !ok {
		return ErrNotFound
	}
	p.CourierID = courierID
	m.parcels[trackingNo] = p
	return nil
}

func (m *Memory) CreateLedgerEntry(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if !m.Caps.LedgerTrackingNo && e.TrackingNo != "" {
		// Legacy shape: no correlation column. Keep the tracking number
		// recoverable through the note pattern.
		if e.Note == "" {
			e.Note = "快递单号：" + e.TrackingNo
		} else if !strings.Contains(e.Note, e.TrackingNo) {
			e.Note += " 快递单号：" + e.TrackingNo
		}
		e.TrackingNo = ""
	}
	m.ledger[e.ID] = e
	return e, nil
}

func (m *Memory) UpdateLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledger[e.ID]; !ok {
		return ErrNotFound
	}
	if !m.Caps.LedgerTrackingNo {
		e.TrackingNo = ""
	}
	m.ledger[e.ID] = e
	return nil
}

func (m *Memory) LedgerByTrackingNo(ctx context.Context, trackingNo string) (model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.ledger {
		if e.TrackingNo == trackingNo {
			return e, nil
		}
	}
	return model.LedgerEntry{}, ErrNotFound
}

func (m *Memory) ScanLedgerNotes(ctx context.Context, needle string) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LedgerEntry{}
	for _, e := range m.ledger {
		if needle != "" && strings.Contains(e.Note, needle) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetLedgerStatus(ctx context.Context, id string, st model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = st
	m.ledger[id] = e
	return nil
}

func (m *Memory) CreateManifest(ctx context.Context, mf model.FreightManifest) (model.FreightManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mf.ID == "" {
		mf.ID = uuid.New().String()
	}
	if mf.CreatedAt.IsZero() {
		mf.CreatedAt = time.Now().UTC()
	}
	m.manifests[mf.ID] = mf
	m.manifestSeq = append(m.manifestSeq, mf.ID)
	return mf, nil
}

func (m *Memory) GetManifest(ctx context.Context, id string) (model.FreightManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[id]
	if !ok {
		return model.FreightManifest{}, ErrNotFound
	}
	return mf, nil
}

func (m *Memory) LatestManifestByFreightNo(ctx context.Context, freightNo string) (model.FreightManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.manifestSeq) - 1; i >= 0; i-- {
		mf := m.manifests[m.manifestSeq[i]]
		if mf.FreightNo == freightNo {
			return mf, nil
		}
	}
	return model.FreightManifest{}, ErrNotFound
}

func (m *Memory) AppendTransit(ctx context.Context, manifestID string, rec model.TransitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[manifestID]
	if !ok {
		return ErrNotFound
	}
	mf.Transits = append(mf.Transits, rec)
	m.manifests[manifestID] = mf
	return nil
}

func (m *Memory) MarkManifestArrived(ctx context.Context, manifestID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[manifestID]
	if !ok {
		return ErrNotFound
	}
	if mf.ArriveAt == nil {
		mf.ArriveAt = &at
	}
	m.manifests[manifestID] = mf
	return nil
}

func (m *Memory) UpsertMembership(ctx context.Context, manifestID, trackingNo string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.manifests[manifestID]; !ok {
		return false, ErrNotFound
	}
	rows := m.members[manifestID]
	if rows == nil {
		rows = map[string]model.ManifestMembership{}
		m.members[manifestID] = rows
	}
	if _, ok := rows[trackingNo]; ok {
		return false, nil
	}
	rows[trackingNo] = model.ManifestMembership{ManifestID: manifestID, TrackingNo: trackingNo, AddedAt: time.Now().UTC()}
	return true, nil
}

func (m *Memory) ListMemberships(ctx context.Context, manifestID string) ([]model.ManifestMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ManifestMembership{}
	for _, row := range m.members[manifestID] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNo < out[j].TrackingNo })
	return out, nil
}

func (m *Memory) DeleteMembership(ctx context.Context, manifestID, trackingNo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[manifestID], trackingNo)
	return nil
}

func (m *Memory) CreateAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.anomalies[a.TrackingNo] = append(m.anomalies[a.TrackingNo], a)
	return a, nil
}

func (m *Memory) ListAnomalies(ctx context.Context, trackingNo string) ([]model.AnomalyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AnomalyReport(nil), m.anomalies[trackingNo]...), nil
}

func (m *Memory) GetCourier(ctx context.Context, id string) (model.Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couriers[id]
	if !ok {
		return model.Courier{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) SaveCourier(ctx context.Context, c model.Courier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.couriers[c.ID] = c
	return nil
}
