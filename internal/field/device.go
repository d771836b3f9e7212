// Package field implements the courier-side task engine: device integrity
// checks, geofenced completion gating, the offline task cache, and adaptive
// location tracking.
package field

import "lastmile/internal/model"

// Signals is the device-sensor collaborator. All readings are best-effort
// OS reports, not guarantees.
type Signals interface {
	BatteryPercent() (int, error)
	FreeStorageMB() (int, error)
	NetworkReachable() bool
	// Fix returns the current position, whether the fix is precise, and the
	// OS-reported simulated-location flag.
	Fix() (pt model.GeoPoint, precise bool, mocked bool, err error)
}

// Report aggregates device signals into a health verdict. Any failing check
// clears OK, but only LocationMocked hard-blocks task completion; the rest
// are advisory warnings surfaced to the courier.
type Report struct {
	OK               bool     `json:"ok"`
	BatteryOK        bool     `json:"batteryOk"`
	StorageOK        bool     `json:"storageOk"`
	NetworkOK        bool     `json:"networkOk"`
	LocationPrecise bool     `json:"locationPrecise"`
	LocationMocked  bool     `json:"locationMocked"`
	BatteryPercent  int      `json:"batteryPercent"`
	FreeStorageMB   int      `json:"freeStorageMb"`
	Warnings        []string `json:"warnings,omitempty"`
	// PositionOK reports whether the fix resolved at all; Position is only
	// meaningful when it is set.
	PositionOK bool           `json:"positionOk"`
	Position   model.GeoPoint `json:"position"`
}

const (
	minBatteryPercent = 15
	minFreeStorageMB  = 200
)

// CheckDevice samples all signals and folds them into one report.
func CheckDevice(sig Signals) Report {
	rep := Report{OK: true}

	if pct, err := sig.BatteryPercent(); err == nil {
		rep.BatteryPercent = pct
		rep.BatteryOK = pct >= minBatteryPercent
	}
	if mb, err := sig.FreeStorageMB(); err == nil {
		rep.FreeStorageMB = mb
		rep.StorageOK = mb >= minFreeStorageMB
	}
	rep.NetworkOK = sig.NetworkReachable()

	if pt, precise, mocked, err := sig.Fix(); err == nil {
		rep.Position = pt
		rep.PositionOK = true
		rep.LocationPrecise = precise
		rep.LocationMocked = mocked
	}

	if !rep.BatteryOK {
		rep.Warnings = append(rep.Warnings, "电量过低，请及时充电")
	}
	if !rep.StorageOK {
		rep.Warnings = append(rep.Warnings, "存储空间不足")
	}
	if !rep.NetworkOK {
		rep.Warnings = append(rep.Warnings, "网络不可用，数据将离线缓存")
	}
	if !rep.PositionOK {
		rep.Warnings = append(rep.Warnings, "无法获取定位")
	}
	if !rep.LocationPrecise {
		rep.Warnings = append(rep.Warnings, "定位精度较低")
	}
	if rep.LocationMocked {
		rep.Warnings = append(rep.Warnings, "检测到模拟定位")
	}

	rep.OK = rep.BatteryOK && rep.StorageOK && rep.NetworkOK && rep.PositionOK && rep.LocationPrecise && !rep.LocationMocked
	return rep
}

// Metadata flattens the report for attachment to anomaly filings.
func (r Report) Metadata() map[string]any {
	return map[string]any{
		"battery":         r.BatteryPercent,
		"freeStorageMb":   r.FreeStorageMB,
		"network":         r.NetworkOK,
		"locationPrecise": r.LocationPrecise,
		"locationMocked":  r.LocationMocked,
	}
}
