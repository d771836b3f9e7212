package consistency

import (
	"context"
	"fmt"

	"lastmile/internal/lifecycle"
	"lastmile/internal/model"
)

// Field-track operations. These are the only code path allowed to touch the
// back-office records as a side effect of courier actions.

// AcceptTask assigns the parcel to the courier and places it on the field
// track. Trust-score gating is evaluated by the caller before this point.
func (s *Syncer) AcceptTask(ctx context.Context, trackingNo, courierID string) error {
	if err := s.Store.AssignParcel(ctx, trackingNo, courierID); err != nil {
		return fmt.Errorf("accept: assign %s: %w", trackingNo, err)
	}
	return s.fieldTransition(ctx, trackingNo, model.StatusPendingPickup)
}

// ConfirmPickup records that the courier has the parcel in hand.
func (s *Syncer) ConfirmPickup(ctx context.Context, trackingNo string) error {
	return s.fieldTransition(ctx, trackingNo, model.StatusPickedUp)
}

// StartDelivery marks the parcel out for delivery. Trust gating happens in
// the field gate before this is called.
func (s *Syncer) StartDelivery(ctx context.Context, trackingNo string) error {
	return s.fieldTransition(ctx, trackingNo, model.StatusDelivering)
}

// CompleteDelivery finishes the field track and propagates the terminal
// status onto the ledger entry when one correlates. The delivery timestamp
// set here is what makes Delivered authoritative on later reads.
func (s *Syncer) CompleteDelivery(ctx context.Context, trackingNo string) (model.SyncReport, error) {
	var rep model.SyncReport
	if err := s.fieldTransition(ctx, trackingNo, model.StatusDelivered); err != nil {
		return rep, err
	}
	rep.Parcels++
	entry, found, err := s.ResolveCorrelation(ctx, trackingNo)
	if err != nil {
		return rep, fmt.Errorf("complete: correlate: %w", err)
	}
	if found && entry.Status != model.StatusDelivered && !entry.Void {
		if err := s.Store.SetLedgerStatus(ctx, entry.ID, model.StatusDelivered); err != nil {
			return rep, fmt.Errorf("complete: ledger %s: %w", entry.ID, err)
		}
		rep.LedgerEntries++
	}
	return rep, nil
}

// ReportAnomaly files a report and parks the parcel in the anomaly
// side-state; the status itself is not reverted.
func (s *Syncer) ReportAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error) {
	saved, err := s.Store.CreateAnomaly(ctx, a)
	if err != nil {
		return model.AnomalyReport{}, fmt.Errorf("anomaly: save: %w", err)
	}
	p, err := s.Store.GetParcel(ctx, a.TrackingNo)
	if err != nil {
		return saved, nil // report stands even when the parcel is gone
	}
	if lifecycle.CanTransition(p.Status, model.StatusAnomalyReported) {
		if err := s.Store.SetParcelStatus(ctx, a.TrackingNo, model.StatusAnomalyReported, s.Now()); err != nil {
			return saved, fmt.Errorf("anomaly: status: %w", err)
		}
		s.emit(ctx, a.TrackingNo, "update")
	}
	return saved, nil
}

func (s *Syncer) fieldTransition(ctx context.Context, trackingNo string, to model.Status) error {
	p, err := s.Store.GetParcel(ctx, trackingNo)
	if err != nil {
		return fmt.Errorf("field transition: parcel %s: %w", trackingNo, err)
	}
	from := lifecycle.Resolve(p.Status, p.RawStatus, p.DeliveredAt)
	if from == to {
		return nil
	}
	if !lifecycle.CanTransition(from, to) {
		return fmt.Errorf("field transition: parcel %s: %s -> %s not allowed", trackingNo, from, to)
	}
	if err := s.Store.SetParcelStatus(ctx, trackingNo, to, s.Now()); err != nil {
		return err
	}
	s.emit(ctx, trackingNo, "update")
	return nil
}
