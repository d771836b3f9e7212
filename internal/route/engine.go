// Package route orders a courier's pickup+delivery legs into a visit
// sequence. The planner is a deterministic nearest-neighbor heuristic, not
// a tour optimizer: it minimizes the immediate pickup distance at each step.
package route

import (
	"context"
	"errors"
	"sort"

	"lastmile/internal/geo"
	"lastmile/internal/geocode"
	"lastmile/internal/model"
)

// Strategy selects how candidates are ranked before greedy selection.
type Strategy string

const (
	// StrategyShortest ranks by pickup+delivery distance alone.
	StrategyShortest Strategy = "shortest"
	// StrategyPriority additionally halves the score of expedited parcels
	// so they surface earlier.
	StrategyPriority Strategy = "priority"
)

// Visit is one planned stop pair: pick the parcel up, deliver it, continue
// from the delivery point.
type Visit struct {
	TrackingNo string             `json:"trackingNo"`
	Pickup     geocode.Resolution `json:"pickup"`
	Delivery   geocode.Resolution `json:"delivery"`
	LegDistM   float64            `json:"legDistM"`
	CumDistM   float64            `json:"cumDistM"`
	ETASec     int                `json:"etaSec"`
}

// Engine plans visit sequences from live courier position.
type Engine struct {
	Resolver *geocode.Resolver
	// AvgSpeedMPS feeds ETA estimation; zero uses the geo default.
	AvgSpeedMPS float64
}

type candidate struct {
	parcel   model.Parcel
	pickup   geocode.Resolution
	delivery geocode.Resolution
	score    float64
}

// Plan builds the visit order. Identical inputs always produce the same
// order: the pre-sort is stable and greedy ties break on first-seen.
func (e *Engine) Plan(ctx context.Context, origin model.GeoPoint, parcels []model.Parcel, strategy Strategy) ([]Visit, error) {
	if e.Resolver == nil {
		return nil, errors.New("route: resolver is required")
	}
	if strategy == "" {
		strategy = StrategyShortest
	}

	cands := make([]candidate, 0, len(parcels))
	for _, p := range parcels {
		pickup := e.Resolver.Resolve(ctx, p.PickupPoint, p.PickupAddress)
		delivery := e.Resolver.Resolve(ctx, p.DeliverPoint, p.DeliverAddress)
		pickupDist := geo.HaversineMeters(origin, pickup.Point)
		deliveryDist := geo.HaversineMeters(pickup.Point, delivery.Point)
		score := pickupDist + deliveryDist
		if strategy == StrategyPriority && p.Expedited {
			score *= 0.5
		}
		cands = append(cands, candidate{parcel: p, pickup: pickup, delivery: delivery, score: score})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score < cands[j].score })

	visits := make([]Visit, 0, len(cands))
	cur := origin
	total := 0.0
	for len(cands) > 0 {
		best := 0
		bestDist := geo.HaversineMeters(cur, cands[0].pickup.Point)
		for i := 1; i < len(cands); i++ {
			d := geo.HaversineMeters(cur, cands[i].pickup.Point)
			// Strict less-than keeps the first-seen candidate on ties.
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		c := cands[best]
		leg := bestDist + geo.HaversineMeters(c.pickup.Point, c.delivery.Point)
		total += leg
		visits = append(visits, Visit{
			TrackingNo: c.parcel.TrackingNo,
			Pickup:     c.pickup,
			Delivery:   c.delivery,
			LegDistM:   leg,
			CumDistM:   total,
			ETASec:     geo.ETASeconds(total, e.AvgSpeedMPS),
		})
		cur = c.delivery.Point
		cands = append(cands[:best], cands[best+1:]...)
	}
	return visits, nil
}
