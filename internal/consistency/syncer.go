// Package consistency keeps the three loosely-coupled parcel records —
// the parcel row, its financial ledger entry, and its freight-manifest
// membership — mutually consistent under batch operations.
//
// Every write is an idempotent upsert or overwrite keyed by tracking number
// or (manifest, tracking number). No transaction spans the three entities;
// a crash mid-batch leaves a valid, re-runnable intermediate state.
package consistency

import (
	"context"
	"fmt"
	"log"
	"time"

	"lastmile/internal/lifecycle"
	"lastmile/internal/metrics"
	"lastmile/internal/model"
	"lastmile/internal/store"
)

// Emitter receives change notifications after each parcel status write.
// Delivery is at-least-once and fire-and-forget.
type Emitter interface {
	ParcelChanged(ctx context.Context, p model.Parcel, op string)
}

// Syncer executes the batch consistency operations.
type Syncer struct {
	Store store.Store
	Emit  Emitter
	Now   func() time.Time
}

func New(s store.Store) *Syncer {
	return &Syncer{Store: s, Now: func() time.Time { return time.Now().UTC() }}
}

const (
	categoryDeliveryFee = "快递费"
	categoryPickupFee   = "取件费"
	notePickupOnCancel  = "订单取消，收取取件费"
)

func (s *Syncer) emit(ctx context.Context, trackingNo, op string) {
	if s.Emit == nil {
		return
	}
	p, err := s.Store.GetParcel(ctx, trackingNo)
	if err != nil {
		return
	}
	s.Emit.ParcelChanged(ctx, p, op)
}

// AddPackages upserts manifest memberships for the given tracking numbers
// and moves each parcel to InTransit. Re-running with an overlapping set
// neither duplicates memberships nor errors. Parcels in a terminal state
// are left untouched and not counted.
func (s *Syncer) AddPackages(ctx context.Context, manifestID string, trackingNos []string) (model.SyncReport, error) {
	var rep model.SyncReport
	for _, tn := range trackingNos {
		p, err := s.Store.GetParcel(ctx, tn)
		if err != nil {
			return rep, fmt.Errorf("add packages: parcel %s: %w", tn, err)
		}
		if _, err := s.Store.UpsertMembership(ctx, manifestID, tn); err != nil {
			return rep, fmt.Errorf("add packages: membership %s: %w", tn, err)
		}
		if lifecycle.Terminal(p.Status) {
			continue
		}
		if p.Status != model.StatusInTransit {
			if err := s.Store.SetParcelStatus(ctx, tn, model.StatusInTransit, s.Now()); err != nil {
				return rep, fmt.Errorf("add packages: status %s: %w", tn, err)
			}
			s.emit(ctx, tn, "update")
		}
		rep.Parcels++
	}
	metrics.SyncOps.WithLabelValues("add_packages").Inc()
	return rep, nil
}

// Arrive moves every member of the manifest to PendingReceipt and mirrors
// the status onto each parcel's ledger entry, synthesizing an entry from the
// parcel fee when correlation finds none. Safe to re-run; the report counts
// parcels vs. ledger entries touched, which can legitimately differ.
func (s *Syncer) Arrive(ctx context.Context, manifestID string) (model.SyncReport, error) {
	members, err := s.Store.ListMemberships(ctx, manifestID)
	if err != nil {
		return model.SyncReport{}, fmt.Errorf("arrive: list members: %w", err)
	}
	now := s.Now()
	var rep model.SyncReport
	for _, mm := range members {
		p, err := s.Store.GetParcel(ctx, mm.TrackingNo)
		if err != nil {
			log.Printf("consistency: arrive %s: member %s has no parcel, skipping", manifestID, mm.TrackingNo)
			continue
		}
		if !lifecycle.Terminal(p.Status) {
			if err := s.Store.SetParcelStatus(ctx, mm.TrackingNo, model.StatusPendingReceipt, now); err != nil {
				return rep, fmt.Errorf("arrive: parcel %s: %w", mm.TrackingNo, err)
			}
			rep.Parcels++
			s.emit(ctx, mm.TrackingNo, "update")
		}

		entry, found, err := s.ResolveCorrelation(ctx, mm.TrackingNo)
		if err != nil {
			return rep, fmt.Errorf("arrive: correlate %s: %w", mm.TrackingNo, err)
		}
		if found {
			if entry.Status != model.StatusPendingReceipt && !entry.Void {
				if err := s.Store.SetLedgerStatus(ctx, entry.ID, model.StatusPendingReceipt); err != nil {
					return rep, fmt.Errorf("arrive: ledger %s: %w", entry.ID, err)
				}
				rep.LedgerEntries++
			}
			continue
		}
		// No entry by correlation key and no legacy note pattern:
		// synthesize one from the parcel fee.
		_, err = s.Store.CreateLedgerEntry(ctx, model.LedgerEntry{
			Kind:       model.LedgerIncome,
			Category:   categoryDeliveryFee,
			Amount:     p.Fee,
			Status:     model.StatusPendingReceipt,
			TrackingNo: p.TrackingNo,
			Note:       "快递单号：" + p.TrackingNo,
			Receiver:   p.Receiver,
			DestSnap:   p.DeliverAddress,
		})
		if err != nil {
			return rep, fmt.Errorf("arrive: synthesize ledger %s: %w", mm.TrackingNo, err)
		}
		metrics.LedgerSynthesized.Inc()
		rep.LedgerEntries++
	}
	if err := s.Store.MarkManifestArrived(ctx, manifestID, now); err != nil && err != store.ErrNotFound {
		return rep, fmt.Errorf("arrive: mark manifest: %w", err)
	}
	metrics.SyncOps.WithLabelValues("arrive").Inc()
	return rep, nil
}

// Transit records a checkpoint on the manifest. Topology only: parcel and
// ledger statuses never change here. With nextFreightNo set, memberships
// migrate to the latest manifest carrying that number (created if absent),
// delete-then-insert per tracking number.
func (s *Syncer) Transit(ctx context.Context, manifestID, location, nextFreightNo string) (model.SyncReport, error) {
	if _, err := s.Store.GetManifest(ctx, manifestID); err != nil {
		return model.SyncReport{}, fmt.Errorf("transit: manifest %s: %w", manifestID, err)
	}
	rec := model.TransitRecord{Location: location, TS: s.Now(), NextFreightNo: nextFreightNo}
	if err := s.Store.AppendTransit(ctx, manifestID, rec); err != nil {
		return model.SyncReport{}, fmt.Errorf("transit: append: %w", err)
	}
	var rep model.SyncReport
	if nextFreightNo != "" {
		next, err := s.Store.LatestManifestByFreightNo(ctx, nextFreightNo)
		if err == store.ErrNotFound {
			next, err = s.Store.CreateManifest(ctx, model.FreightManifest{FreightNo: nextFreightNo})
		}
		if err != nil {
			return rep, fmt.Errorf("transit: next manifest %s: %w", nextFreightNo, err)
		}
		if next.ID != manifestID {
			members, err := s.Store.ListMemberships(ctx, manifestID)
			if err != nil {
				return rep, fmt.Errorf("transit: list members: %w", err)
			}
			for _, mm := range members {
				if _, err := s.Store.UpsertMembership(ctx, next.ID, mm.TrackingNo); err != nil {
					return rep, fmt.Errorf("transit: migrate %s: %w", mm.TrackingNo, err)
				}
				if err := s.Store.DeleteMembership(ctx, manifestID, mm.TrackingNo); err != nil {
					return rep, fmt.Errorf("transit: unlink %s: %w", mm.TrackingNo, err)
				}
				rep.Parcels++
			}
		}
	}
	metrics.SyncOps.WithLabelValues("transit").Inc()
	return rep, nil
}

// Cancel terminally cancels a parcel. City-line parcels charge a pickup fee
// on cancellation, so their ledger entry is rewritten (category and note)
// instead of deleted; other lines have the entry voided. Cancelling an
// already-cancelled parcel is a no-op.
func (s *Syncer) Cancel(ctx context.Context, trackingNo string) (model.SyncReport, error) {
	p, err := s.Store.GetParcel(ctx, trackingNo)
	if err != nil {
		return model.SyncReport{}, fmt.Errorf("cancel: parcel %s: %w", trackingNo, err)
	}
	if p.Status == model.StatusCancelled {
		return model.SyncReport{}, nil
	}
	if lifecycle.Terminal(p.Status) {
		return model.SyncReport{}, fmt.Errorf("cancel: parcel %s is %s", trackingNo, p.Status)
	}
	var rep model.SyncReport
	if err := s.Store.SetParcelStatus(ctx, trackingNo, model.StatusCancelled, s.Now()); err != nil {
		return rep, fmt.Errorf("cancel: status: %w", err)
	}
	rep.Parcels++
	s.emit(ctx, trackingNo, "update")

	entry, found, err := s.ResolveCorrelation(ctx, trackingNo)
	if err != nil {
		return rep, fmt.Errorf("cancel: correlate: %w", err)
	}
	if !found {
		metrics.SyncOps.WithLabelValues("cancel").Inc()
		return rep, nil
	}
	if p.BizLine == model.BizCity {
		entry.Category = categoryPickupFee
		entry.Note = notePickupOnCancel + " 快递单号：" + trackingNo
		entry.Status = model.StatusCancelled
	} else {
		entry.Void = true
		entry.Status = model.StatusCancelled
	}
	if err := s.Store.UpdateLedgerEntry(ctx, entry); err != nil {
		return rep, fmt.Errorf("cancel: ledger %s: %w", entry.ID, err)
	}
	rep.LedgerEntries++
	metrics.SyncOps.WithLabelValues("cancel").Inc()
	return rep, nil
}
