package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/model"
	"lastmile/internal/store"
)

func testSyncer() (*Syncer, *store.Memory) {
	m := store.NewMemory()
	s := New(m)
	s.Now = func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
	return s, m
}

func seedParcel(t *testing.T, m *store.Memory, tn string, fee float64) model.Parcel {
	t.Helper()
	p, err := m.CreateParcel(context.Background(), model.Parcel{
		TrackingNo: tn,
		Fee:        fee,
		Status:     model.StatusInbound,
	})
	require.NoError(t, err)
	return p
}

func seedManifest(t *testing.T, m *store.Memory, freightNo string) model.FreightManifest {
	t.Helper()
	mf, err := m.CreateManifest(context.Background(), model.FreightManifest{FreightNo: freightNo})
	require.NoError(t, err)
	return mf
}

func TestAddPackagesIdempotent(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "F100")
	seedParcel(t, m, "A", 1000)
	seedParcel(t, m, "B", 2000)

	rep, err := s.AddPackages(ctx, mf.ID, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Parcels)

	// Re-run with an overlapping set: no duplicate memberships, no error.
	rep, err = s.AddPackages(ctx, mf.ID, []string{"A", "B"})
	require.NoError(t, err)
	members, err := m.ListMemberships(ctx, mf.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	p, err := m.GetParcel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, p.Status)
}

func TestAddPackagesMissingParcel(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "F100")
	seedParcel(t, m, "A", 1000)

	_, err := s.AddPackages(ctx, mf.ID, []string{"A", "GHOST"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddPackagesSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "F100")
	seedParcel(t, m, "A", 1000)
	require.NoError(t, m.SetParcelStatus(ctx, "A", model.StatusCancelled, time.Now()))

	rep, err := s.AddPackages(ctx, mf.ID, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Parcels)
	p, _ := m.GetParcel(ctx, "A")
	assert.Equal(t, model.StatusCancelled, p.Status)
}

func TestArriveSynthesizesLedgerEntries(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "M1")
	seedParcel(t, m, "A", 1000)
	seedParcel(t, m, "B", 2000)
	seedParcel(t, m, "C", 3000)
	_, err := s.AddPackages(ctx, mf.ID, []string{"A", "B", "C"})
	require.NoError(t, err)

	rep, err := s.Arrive(ctx, mf.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Parcels)
	assert.Equal(t, 3, rep.LedgerEntries)

	var total float64
	for _, tn := range []string{"A", "B", "C"} {
		p, err := m.GetParcel(ctx, tn)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingReceipt, p.Status)
		e, err := m.LedgerByTrackingNo(ctx, tn)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingReceipt, e.Status)
		assert.Equal(t, "快递费", e.Category)
		total += e.Amount
	}
	assert.Equal(t, 6000.0, total)

	got, err := m.GetManifest(ctx, mf.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArriveAt)
}

func TestArriveIdempotent(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "M1")
	seedParcel(t, m, "A", 1000)
	_, err := s.AddPackages(ctx, mf.ID, []string{"A"})
	require.NoError(t, err)

	_, err = s.Arrive(ctx, mf.ID)
	require.NoError(t, err)
	rep, err := s.Arrive(ctx, mf.ID)
	require.NoError(t, err)
	// Second run touches nothing: parcel already PendingReceipt, entry
	// already exists and already carries the status.
	assert.Equal(t, 0, rep.Parcels)
	assert.Equal(t, 0, rep.LedgerEntries)

	entries, err := m.ScanLedgerNotes(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArriveUpdatesExistingEntry(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "M1")
	seedParcel(t, m, "A", 1000)
	_, err := m.CreateLedgerEntry(ctx, model.LedgerEntry{
		Kind:       model.LedgerIncome,
		Category:   "快递费",
		Amount:     1500, // manually adjusted; must not be overwritten
		Status:     model.StatusInTransit,
		TrackingNo: "A",
	})
	require.NoError(t, err)
	_, err = s.AddPackages(ctx, mf.ID, []string{"A"})
	require.NoError(t, err)

	rep, err := s.Arrive(ctx, mf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LedgerEntries)
	e, err := m.LedgerByTrackingNo(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReceipt, e.Status)
	assert.Equal(t, 1500.0, e.Amount)
}

func TestArriveLegacyNoteCorrelation(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	// Legacy schema shape: ledger rows carry no correlation column, only
	// the note pattern.
	m.Caps = store.Capabilities{LedgerTrackingNo: false, ParcelBizLine: true}
	mf := seedManifest(t, m, "M1")
	seedParcel(t, m, "A", 1000)
	_, err := m.CreateLedgerEntry(ctx, model.LedgerEntry{
		Kind:       model.LedgerIncome,
		Category:   "快递费",
		Amount:     1000,
		Status:     model.StatusInTransit,
		TrackingNo: "A", // store rewrites this into the note
	})
	require.NoError(t, err)
	_, err = s.AddPackages(ctx, mf.ID, []string{"A"})
	require.NoError(t, err)

	rep, err := s.Arrive(ctx, mf.ID)
	require.NoError(t, err)
	// Correlated through the note, so no second entry is synthesized.
	assert.Equal(t, 1, rep.LedgerEntries)
	entries, err := m.ScanLedgerNotes(ctx, "A")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusPendingReceipt, entries[0].Status)
}

func TestTransitMigratesMemberships(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "F1")
	seedParcel(t, m, "A", 1000)
	seedParcel(t, m, "B", 2000)
	_, err := s.AddPackages(ctx, mf.ID, []string{"A", "B"})
	require.NoError(t, err)

	rep, err := s.Transit(ctx, mf.ID, "中转仓-1", "F2")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Parcels)

	next, err := m.LatestManifestByFreightNo(ctx, "F2")
	require.NoError(t, err)
	nextMembers, err := m.ListMemberships(ctx, next.ID)
	require.NoError(t, err)
	assert.Len(t, nextMembers, 2)
	oldMembers, err := m.ListMemberships(ctx, mf.ID)
	require.NoError(t, err)
	assert.Empty(t, oldMembers)

	got, err := m.GetManifest(ctx, mf.ID)
	require.NoError(t, err)
	require.Len(t, got.Transits, 1)
	assert.Equal(t, "中转仓-1", got.Transits[0].Location)

	// Statuses never change on transit.
	p, _ := m.GetParcel(ctx, "A")
	assert.Equal(t, model.StatusInTransit, p.Status)
}

func TestTransitSameManifestNoMigration(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	mf := seedManifest(t, m, "F1")
	seedParcel(t, m, "A", 1000)
	_, err := s.AddPackages(ctx, mf.ID, []string{"A"})
	require.NoError(t, err)

	// nextFreightNo resolves to the manifest itself; members stay put.
	rep, err := s.Transit(ctx, mf.ID, "中转仓-1", "F1")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Parcels)
	members, err := m.ListMemberships(ctx, mf.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCancelCityLineRewritesEntry(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	p, err := m.CreateParcel(ctx, model.Parcel{
		TrackingNo: "A",
		Fee:        1200,
		BizLine:    model.BizCity,
		Status:     model.StatusInbound,
	})
	require.NoError(t, err)
	_, err = m.CreateLedgerEntry(ctx, model.LedgerEntry{
		Kind:       model.LedgerIncome,
		Category:   "快递费",
		Amount:     p.Fee,
		Status:     model.StatusInbound,
		TrackingNo: "A",
	})
	require.NoError(t, err)

	rep, err := s.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Parcels)
	assert.Equal(t, 1, rep.LedgerEntries)

	e, err := m.LedgerByTrackingNo(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "取件费", e.Category)
	assert.Contains(t, e.Note, "订单取消，收取取件费")
	assert.Contains(t, e.Note, "A")
	assert.False(t, e.Void)
	assert.Equal(t, model.StatusCancelled, e.Status)
}

func TestCancelCrossBorderVoidsEntry(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	_, err := m.CreateParcel(ctx, model.Parcel{
		TrackingNo: "A",
		Fee:        9000,
		BizLine:    model.BizCrossBorder,
		Status:     model.StatusInTransit,
	})
	require.NoError(t, err)
	_, err = m.CreateLedgerEntry(ctx, model.LedgerEntry{
		Kind:       model.LedgerIncome,
		Category:   "快递费",
		Amount:     9000,
		Status:     model.StatusInTransit,
		TrackingNo: "A",
	})
	require.NoError(t, err)

	rep, err := s.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LedgerEntries)
	e, err := m.LedgerByTrackingNo(ctx, "A")
	require.NoError(t, err)
	assert.True(t, e.Void)
	assert.Equal(t, "快递费", e.Category)
}

func TestCancelIdempotentAndTerminalGuard(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	seedParcel(t, m, "A", 1000)

	_, err := s.Cancel(ctx, "A")
	require.NoError(t, err)
	// Cancelling again is a no-op, not an error.
	rep, err := s.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Parcels)

	// Other terminal states refuse.
	seedParcel(t, m, "B", 1000)
	require.NoError(t, m.SetParcelStatus(ctx, "B", model.StatusSigned, time.Now()))
	_, err = s.Cancel(ctx, "B")
	assert.Error(t, err)
}

func TestCompleteDeliveryPropagatesToLedger(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	_, err := m.CreateParcel(ctx, model.Parcel{
		TrackingNo: "A",
		Fee:        1000,
		Status:     model.StatusDelivering,
		CourierID:  "c1",
	})
	require.NoError(t, err)
	_, err = m.CreateLedgerEntry(ctx, model.LedgerEntry{
		Kind:       model.LedgerIncome,
		Category:   "快递费",
		Amount:     1000,
		Status:     model.StatusPendingReceipt,
		TrackingNo: "A",
	})
	require.NoError(t, err)

	rep, err := s.CompleteDelivery(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Parcels)
	assert.Equal(t, 1, rep.LedgerEntries)

	p, err := m.GetParcel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, p.Status)
	require.NotNil(t, p.DeliveredAt)
	e, err := m.LedgerByTrackingNo(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, e.Status)
}

func TestFieldTransitionRejectsSkips(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	_, err := m.CreateParcel(ctx, model.Parcel{
		TrackingNo: "A",
		Status:     model.StatusPendingPickup,
	})
	require.NoError(t, err)

	// PendingPickup cannot jump straight to Delivering.
	err = s.StartDelivery(ctx, "A")
	assert.Error(t, err)
	require.NoError(t, s.ConfirmPickup(ctx, "A"))
	require.NoError(t, s.StartDelivery(ctx, "A"))
	// Repeating the same transition is a no-op.
	require.NoError(t, s.StartDelivery(ctx, "A"))
}

func TestAcceptTaskAssignsAndMoves(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	seedParcel(t, m, "A", 1000)

	require.NoError(t, s.AcceptTask(ctx, "A", "c9"))
	p, err := m.GetParcel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "c9", p.CourierID)
	assert.Equal(t, model.StatusPendingPickup, p.Status)
}

func TestReportAnomalyParksParcel(t *testing.T) {
	ctx := context.Background()
	s, m := testSyncer()
	_, err := m.CreateParcel(ctx, model.Parcel{TrackingNo: "A", Status: model.StatusDelivering})
	require.NoError(t, err)

	saved, err := s.ReportAnomaly(ctx, model.AnomalyReport{
		TrackingNo: "A",
		CourierID:  "c1",
		Reason:     "收件人地址无法联系",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	p, err := m.GetParcel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnomalyReported, p.Status)

	// Anomaly resolution goes back to Delivering, never straight to
	// Delivered.
	_, err = s.CompleteDelivery(ctx, "A")
	assert.Error(t, err)
}
