package consistency

import (
	"context"
	"strings"

	"lastmile/internal/model"
	"lastmile/internal/store"
)

// Legacy note patterns that may carry a tracking number. Rows written before
// the correlation column existed embed the number in free text, usually as
// "快递单号：ML1234567890" (full- or half-width colon, optional spacing).
var notePrefixes = []string{"快递单号：", "快递单号:", "单号：", "单号:"}

// ResolveCorrelation finds the ledger entry for a tracking number. Lookup
// order: the correlation column, then a free-text scan of notes for the
// legacy patterns, then a bare substring hit. Correlation is best-effort by
// design — there is no foreign key to lean on.
func (s *Syncer) ResolveCorrelation(ctx context.Context, trackingNo string) (model.LedgerEntry, bool, error) {
	trackingNo = strings.TrimSpace(trackingNo)
	if trackingNo == "" {
		return model.LedgerEntry{}, false, nil
	}
	entry, err := s.Store.LedgerByTrackingNo(ctx, trackingNo)
	if err == nil {
		return entry, true, nil
	}
	if err != store.ErrNotFound {
		return model.LedgerEntry{}, false, err
	}

	candidates, err := s.Store.ScanLedgerNotes(ctx, trackingNo)
	if err != nil {
		return model.LedgerEntry{}, false, err
	}
	// Prefer an explicit legacy pattern over a bare substring hit.
	var bare *model.LedgerEntry
	for i := range candidates {
		e := candidates[i]
		for _, prefix := range notePrefixes {
			if strings.Contains(strings.ReplaceAll(e.Note, " ", ""), prefix+trackingNo) {
				return e, true, nil
			}
		}
		if bare == nil {
			bare = &e
		}
	}
	if bare != nil {
		return *bare, true, nil
	}
	return model.LedgerEntry{}, false, nil
}
