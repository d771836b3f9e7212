package field

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"lastmile/internal/model"
)

type fakeSignals struct {
	battery    int
	batteryErr error
	storage    int
	network    bool
	precise    bool
	mocked     bool
	fixErr     error
}

func (f *fakeSignals) BatteryPercent() (int, error) { return f.battery, f.batteryErr }
func (f *fakeSignals) FreeStorageMB() (int, error)  { return f.storage, nil }
func (f *fakeSignals) NetworkReachable() bool       { return f.network }
func (f *fakeSignals) Fix() (model.GeoPoint, bool, bool, error) {
	return model.GeoPoint{Lat: 1, Lng: 2}, f.precise, f.mocked, f.fixErr
}

func TestCheckDeviceHealthy(t *testing.T) {
	rep := CheckDevice(&fakeSignals{battery: 80, storage: 1024, network: true, precise: true})
	assert.True(t, rep.OK)
	assert.Empty(t, rep.Warnings)
	assert.Equal(t, 80, rep.BatteryPercent)
}

func TestCheckDeviceThresholds(t *testing.T) {
	// Exactly at the floor passes; one below warns.
	rep := CheckDevice(&fakeSignals{battery: 15, storage: 200, network: true, precise: true})
	assert.True(t, rep.OK)

	rep = CheckDevice(&fakeSignals{battery: 14, storage: 199, network: false, precise: false})
	assert.False(t, rep.OK)
	assert.False(t, rep.BatteryOK)
	assert.False(t, rep.StorageOK)
	assert.False(t, rep.NetworkOK)
	assert.Len(t, rep.Warnings, 4)
}

func TestCheckDeviceMockedLocation(t *testing.T) {
	rep := CheckDevice(&fakeSignals{battery: 80, storage: 1024, network: true, precise: true, mocked: true})
	assert.False(t, rep.OK)
	assert.True(t, rep.LocationMocked)
	assert.Contains(t, rep.Warnings, "检测到模拟定位")

	md := rep.Metadata()
	assert.Equal(t, true, md["locationMocked"])
	assert.Equal(t, 80, md["battery"])
}

func TestCheckDeviceFixError(t *testing.T) {
	rep := CheckDevice(&fakeSignals{battery: 80, storage: 1024, network: true, precise: true, fixErr: errors.New("gps off")})
	assert.False(t, rep.OK)
	assert.False(t, rep.PositionOK)
	assert.Contains(t, rep.Warnings, "无法获取定位")
}

func TestCheckDeviceSensorErrors(t *testing.T) {
	// A failed battery read leaves the check failing rather than passing
	// vacuously.
	rep := CheckDevice(&fakeSignals{batteryErr: errors.New("no sensor"), storage: 1024, network: true, precise: true})
	assert.False(t, rep.OK)
	assert.False(t, rep.BatteryOK)
}
