package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lastmile/internal/model"
)

// Postgres is the production store. Optional-column handling: the schema
// probe runs once per process and every write picks a variant the current
// schema generation can absorb.
type Postgres struct {
	db *sql.DB

	probeOnce sync.Once
	caps      Capabilities
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files in lexical order. Dev helper, not a
// migration framework.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", n, err)
		}
	}
	return nil
}

// Capabilities probes information_schema once and caches the answer for the
// process lifetime.
func (p *Postgres) Capabilities(ctx context.Context) Capabilities {
	p.probeOnce.Do(func() {
		p.caps = Capabilities{
			LedgerTrackingNo: p.columnExists(ctx, "ledger_entries", "tracking_no"),
			ParcelBizLine:    p.columnExists(ctx, "parcels", "biz_line"),
		}
	})
	return p.caps
}

func (p *Postgres) columnExists(ctx context.Context, table, column string) bool {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`,
		table, column).Scan(&one)
	return err == nil
}

func (p *Postgres) CreateParcel(ctx context.Context, in model.Parcel) (model.Parcel, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.Status == "" {
		in.Status = model.StatusOrdered
	}
	var exists string
	err := p.db.QueryRowContext(ctx, `SELECT id::text FROM parcels WHERE tracking_no=$1`, in.TrackingNo).Scan(&exists)
	if err == nil {
		return model.Parcel{}, ErrDuplicate
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Parcel{}, err
	}

	cols := []string{"id", "tracking_no", "sender", "sender_phone", "receiver", "receiver_phone",
		"pickup_address", "pickup_lat", "pickup_lng", "deliver_address", "deliver_lat", "deliver_lng",
		"fee", "quantity", "expedited", "courier_id", "status", "raw_status", "created_at"}
	args := []any{in.ID, in.TrackingNo, in.Sender, in.SenderPhone, in.Receiver, in.ReceiverPhone,
		in.PickupAddress, nullLat(in.PickupPoint), nullLng(in.PickupPoint),
		in.DeliverAddress, nullLat(in.DeliverPoint), nullLng(in.DeliverPoint),
		in.Fee, in.Quantity, in.Expedited, nullIfEmpty(in.CourierID), string(in.Status), nullIfEmpty(in.RawStatus), in.CreatedAt}
	if p.Capabilities(ctx).ParcelBizLine {
		cols = append(cols, "biz_line")
		args = append(args, nullIfEmpty(string(in.BizLine)))
	}
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf(`INSERT INTO parcels (%s) VALUES (%s)`, strings.Join(cols, ","), strings.Join(ph, ","))
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return model.Parcel{}, err
	}
	return in, nil
}

const parcelCols = `id::text, tracking_no, COALESCE(sender,''), COALESCE(sender_phone,''),
 COALESCE(receiver,''), COALESCE(receiver_phone,''), COALESCE(pickup_address,''), pickup_lat, pickup_lng,
 COALESCE(deliver_address,''), deliver_lat, deliver_lng, fee, quantity, expedited,
 COALESCE(courier_id,''), status, COALESCE(raw_status,''), created_at, inbound_at, delivered_at, signed_at`

func (p *Postgres) scanParcel(row interface{ Scan(...any) error }, withBiz bool) (model.Parcel, error) {
	var out model.Parcel
	var pLat, pLng, dLat, dLng sql.NullFloat64
	var inboundAt, deliveredAt, signedAt sql.NullTime
	var biz sql.NullString
	dest := []any{&out.ID, &out.TrackingNo, &out.Sender, &out.SenderPhone, &out.Receiver, &out.ReceiverPhone,
		&out.PickupAddress, &pLat, &pLng, &out.DeliverAddress, &dLat, &dLng, &out.Fee, &out.Quantity,
		&out.Expedited, &out.CourierID, &out.Status, &out.RawStatus, &out.CreatedAt, &inboundAt, &deliveredAt, &signedAt}
	if withBiz {
		dest = append(dest, &biz)
	}
	if err := row.Scan(dest...); err != nil {
		return model.Parcel{}, err
	}
	if pLat.Valid && pLng.Valid {
		out.PickupPoint = &model.GeoPoint{Lat: pLat.Float64, Lng: pLng.Float64}
	}
	if dLat.Valid && dLng.Valid {
		out.DeliverPoint = &model.GeoPoint{Lat: dLat.Float64, Lng: dLng.Float64}
	}
	if inboundAt.Valid {
		out.InboundAt = &inboundAt.Time
	}
	if deliveredAt.Valid {
		out.DeliveredAt = &deliveredAt.Time
	}
	if signedAt.Valid {
		out.SignedAt = &signedAt.Time
	}
	if biz.Valid {
		out.BizLine = model.BizLine(biz.String)
	}
	return out, nil
}

func (p *Postgres) GetParcel(ctx context.Context, trackingNo string) (model.Parcel, error) {
	withBiz := p.Capabilities(ctx).ParcelBizLine
	cols := parcelCols
	if withBiz {
		cols += `, biz_line`
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+cols+` FROM parcels WHERE tracking_no=$1`, trackingNo)
	out, err := p.scanParcel(row, withBiz)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Parcel{}, ErrNotFound
	}
	return out, err
}

func (p *Postgres) ListParcelsByCourier(ctx context.Context, courierID string, statuses []model.Status) ([]model.Parcel, error) {
	withBiz := p.Capabilities(ctx).ParcelBizLine
	cols := parcelCols
	if withBiz {
		cols += `, biz_line`
	}
	q := `SELECT ` + cols + ` FROM parcels WHERE courier_id=$1`
	args := []any{courierID}
	if len(statuses) > 0 {
		ph := make([]string, 0, len(statuses))
		for _, s := range statuses {
			args = append(args, string(s))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		q += ` AND status IN (` + strings.Join(ph, ",") + `)`
	}
	q += ` ORDER BY tracking_no`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Parcel{}
	for rows.Next() {
		pc, err := p.scanParcel(rows, withBiz)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func (p *Postgres) SetParcelStatus(ctx context.Context, trackingNo string, st model.Status, at time.Time) error {
	set := `status=$1`
	switch st {
	case model.StatusInbound:
		set += `, inbound_at=COALESCE(inbound_at,$3)`
	case model.StatusDelivered:
		set += `, delivered_at=COALESCE(delivered_at,$3)`
	case model.StatusSigned:
		set += `, signed_at=COALESCE(signed_at,$3)`
	}
	args := []any{string(st), trackingNo}
	if strings.Contains(set, "$3") {
		args = append(args, at)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE parcels SET `+set+` WHERE tracking_no=$2`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AssignParcel(ctx context.Context, trackingNo, courierID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE parcels SET courier_id=$1 WHERE tracking_no=$2`, courierID, trackingNo)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateLedgerEntry(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cols := []string{"id", "kind", "category", "amount", "status", "note", "receiver", "dest_snap", "void", "created_at"}
	note := e.Note
	if p.Capabilities(ctx).LedgerTrackingNo {
		cols = append(cols, "tracking_no")
	} else if e.TrackingNo != "" && !strings.Contains(note, e.TrackingNo) {
		// Legacy generation: keep the correlation recoverable via the note
		// pattern scan.
		if note != "" {
			note += " "
		}
		note += "快递单号：" + e.TrackingNo
	}
	args := []any{e.ID, string(e.Kind), e.Category, e.Amount, string(e.Status), note, e.Receiver, e.DestSnap, e.Void, e.CreatedAt}
	if p.Capabilities(ctx).LedgerTrackingNo {
		args = append(args, nullIfEmpty(e.TrackingNo))
	}
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf(`INSERT INTO ledger_entries (%s) VALUES (%s)`, strings.Join(cols, ","), strings.Join(ph, ","))
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return model.LedgerEntry{}, err
	}
	e.Note = note
	return e, nil
}

func (p *Postgres) UpdateLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	q := `UPDATE ledger_entries SET kind=$1, category=$2, amount=$3, status=$4, note=$5, void=$6 WHERE id=$7`
	res, err := p.db.ExecContext(ctx, q, string(e.Kind), e.Category, e.Amount, string(e.Status), e.Note, e.Void, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const ledgerCols = `id::text, kind, category, amount, status, COALESCE(note,''), COALESCE(receiver,''), COALESCE(dest_snap,''), void, created_at`

func scanLedger(row interface{ Scan(...any) error }, withTracking bool) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var tn sql.NullString
	dest := []any{&e.ID, &e.Kind, &e.Category, &e.Amount, &e.Status, &e.Note, &e.Receiver, &e.DestSnap, &e.Void, &e.CreatedAt}
	if withTracking {
		dest = append(dest, &tn)
	}
	if err := row.Scan(dest...); err != nil {
		return model.LedgerEntry{}, err
	}
	e.TrackingNo = tn.String
	return e, nil
}

func (p *Postgres) LedgerByTrackingNo(ctx context.Context, trackingNo string) (model.LedgerEntry, error) {
	if !p.Capabilities(ctx).LedgerTrackingNo {
		return model.LedgerEntry{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx,
		`SELECT `+ledgerCols+`, tracking_no FROM ledger_entries WHERE tracking_no=$1 ORDER BY created_at DESC LIMIT 1`,
		trackingNo)
	e, err := scanLedger(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, ErrNotFound
	}
	return e, err
}

func (p *Postgres) ScanLedgerNotes(ctx context.Context, needle string) ([]model.LedgerEntry, error) {
	if strings.TrimSpace(needle) == "" {
		return nil, nil
	}
	withTracking := p.Capabilities(ctx).LedgerTrackingNo
	cols := ledgerCols
	if withTracking {
		cols += `, tracking_no`
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+cols+` FROM ledger_entries WHERE note LIKE '%' || $1 || '%' ORDER BY created_at`, needle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedger(rows, withTracking)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) SetLedgerStatus(ctx context.Context, id string, st model.Status) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ledger_entries SET status=$1 WHERE id=$2`, string(st), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateManifest(ctx context.Context, m model.FreightManifest) (model.FreightManifest, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO manifests (id, freight_no, vehicle, destination, depart_at, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.FreightNo, nullIfEmpty(m.Vehicle), nullIfEmpty(m.Destination), m.DepartAt, m.CreatedAt)
	if err != nil {
		return model.FreightManifest{}, err
	}
	return m, nil
}

func (p *Postgres) GetManifest(ctx context.Context, id string) (model.FreightManifest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id::text, freight_no, COALESCE(vehicle,''), COALESCE(destination,''), depart_at, arrive_at, created_at
		 FROM manifests WHERE id=$1`, id)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FreightManifest{}, ErrNotFound
	}
	if err != nil {
		return model.FreightManifest{}, err
	}
	m.Transits, err = p.listTransits(ctx, m.ID)
	return m, err
}

func scanManifest(row interface{ Scan(...any) error }) (model.FreightManifest, error) {
	var m model.FreightManifest
	var depart, arrive sql.NullTime
	if err := row.Scan(&m.ID, &m.FreightNo, &m.Vehicle, &m.Destination, &depart, &arrive, &m.CreatedAt); err != nil {
		return model.FreightManifest{}, err
	}
	if depart.Valid {
		m.DepartAt = &depart.Time
	}
	if arrive.Valid {
		m.ArriveAt = &arrive.Time
	}
	return m, nil
}

func (p *Postgres) listTransits(ctx context.Context, manifestID string) ([]model.TransitRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT location, ts, COALESCE(next_freight_no,'') FROM manifest_transits WHERE manifest_id=$1 ORDER BY ts`, manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TransitRecord{}
	for rows.Next() {
		var r model.TransitRecord
		if err := rows.Scan(&r.Location, &r.TS, &r.NextFreightNo); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestManifestByFreightNo(ctx context.Context, freightNo string) (model.FreightManifest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id::text, freight_no, COALESCE(vehicle,''), COALESCE(destination,''), depart_at, arrive_at, created_at
		 FROM manifests WHERE freight_no=$1 ORDER BY created_at DESC LIMIT 1`, freightNo)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FreightManifest{}, ErrNotFound
	}
	return m, err
}

func (p *Postgres) AppendTransit(ctx context.Context, manifestID string, rec model.TransitRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO manifest_transits (id, manifest_id, location, ts, next_freight_no) VALUES ($1,$2,$3,$4,$5)`,
		uuid.New().String(), manifestID, rec.Location, rec.TS, nullIfEmpty(rec.NextFreightNo))
	return err
}

func (p *Postgres) MarkManifestArrived(ctx context.Context, manifestID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE manifests SET arrive_at=COALESCE(arrive_at,$1) WHERE id=$2`, at, manifestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertMembership(ctx context.Context, manifestID, trackingNo string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO manifest_members (manifest_id, tracking_no, added_at) VALUES ($1,$2,$3)
		 ON CONFLICT (manifest_id, tracking_no) DO NOTHING`,
		manifestID, trackingNo, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) ListMemberships(ctx context.Context, manifestID string) ([]model.ManifestMembership, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT manifest_id::text, tracking_no, added_at FROM manifest_members WHERE manifest_id=$1 ORDER BY tracking_no`, manifestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ManifestMembership{}
	for rows.Next() {
		var mm model.ManifestMembership
		if err := rows.Scan(&mm.ManifestID, &mm.TrackingNo, &mm.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteMembership(ctx context.Context, manifestID, trackingNo string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM manifest_members WHERE manifest_id=$1 AND tracking_no=$2`, manifestID, trackingNo)
	return err
}

func (p *Postgres) CreateAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var lat, lng any
	if a.Position != nil {
		lat, lng = a.Position.Lat, a.Position.Lng
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO anomaly_reports (id, tracking_no, courier_id, reason, automatic, device, lat, lng, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.TrackingNo, a.CourierID, a.Reason, a.Automatic, toJSON(a.Device), lat, lng, a.CreatedAt)
	if err != nil {
		return model.AnomalyReport{}, err
	}
	return a, nil
}

func (p *Postgres) ListAnomalies(ctx context.Context, trackingNo string) ([]model.AnomalyReport, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id::text, tracking_no, courier_id, reason, automatic, device, lat, lng, created_at
		 FROM anomaly_reports WHERE tracking_no=$1 ORDER BY created_at`, trackingNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AnomalyReport{}
	for rows.Next() {
		var a model.AnomalyReport
		var device sql.NullString
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.TrackingNo, &a.CourierID, &a.Reason, &a.Automatic, &device, &lat, &lng, &a.CreatedAt); err != nil {
			return nil, err
		}
		if device.Valid {
			a.Device = fromJSON(device.String)
		}
		if lat.Valid && lng.Valid {
			a.Position = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) GetCourier(ctx context.Context, id string) (model.Courier, error) {
	var c model.Courier
	err := p.db.QueryRowContext(ctx,
		`SELECT id::text, COALESCE(name,''), COALESCE(phone,''), trust_score, online FROM couriers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.TrustScore, &c.Online)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Courier{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) SaveCourier(ctx context.Context, c model.Courier) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO couriers (id, name, phone, trust_score, online) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, phone=EXCLUDED.phone,
		 trust_score=EXCLUDED.trust_score, online=EXCLUDED.online`,
		c.ID, c.Name, c.Phone, c.TrustScore, c.Online)
	return err
}
