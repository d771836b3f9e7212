package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/model"
)

type fakeGeocoder struct {
	pt    model.GeoPoint
	err   error
	calls int
}

func (f *fakeGeocoder) Lookup(ctx context.Context, address string) (model.GeoPoint, error) {
	f.calls++
	return f.pt, f.err
}

var defaultPt = model.GeoPoint{Lat: 16.8409, Lng: 96.1735}

func TestResolveCoordsWin(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryKV()
	r := &Resolver{Local: local, Default: defaultPt}

	coords := &model.GeoPoint{Lat: 1, Lng: 2}
	res := r.Resolve(ctx, coords, "市中心一号")
	assert.Equal(t, SourceCoords, res.Source)
	assert.Equal(t, PrecisionHigh, res.Precision)
	assert.Equal(t, *coords, res.Point)

	// The coordinate resolution warmed the cache for the address.
	res = r.Resolve(ctx, nil, "市中心一号")
	assert.Equal(t, SourceLocalCache, res.Source)
	assert.Equal(t, *coords, res.Point)
}

func TestResolveNormalizesKey(t *testing.T) {
	ctx := context.Background()
	r := &Resolver{Local: NewMemoryKV(), Default: defaultPt}
	r.Resolve(ctx, &model.GeoPoint{Lat: 3, Lng: 4}, "  Main Street 5  ")
	res := r.Resolve(ctx, nil, "main street 5")
	assert.Equal(t, SourceLocalCache, res.Source)
}

func TestResolveSharedTierPromotes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	shared := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	local := NewMemoryKV()
	r := &Resolver{Local: local, Shared: shared, Default: defaultPt}

	pt := model.GeoPoint{Lat: 5, Lng: 6}
	shared.Put(ctx, "仓库东路", pt, time.Hour)

	res := r.Resolve(ctx, nil, "仓库东路")
	assert.Equal(t, SourceSharedCache, res.Source)
	assert.Equal(t, pt, res.Point)

	// Promoted: the second hit comes from the local tier.
	res = r.Resolve(ctx, nil, "仓库东路")
	assert.Equal(t, SourceLocalCache, res.Source)
}

func TestResolveGeocoderWriteBack(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	shared := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	local := NewMemoryKV()
	gc := &fakeGeocoder{pt: model.GeoPoint{Lat: 7, Lng: 8}}
	r := &Resolver{Local: local, Shared: shared, External: gc, Default: defaultPt}

	res := r.Resolve(ctx, nil, "新地址")
	require.Equal(t, SourceGeocoder, res.Source)
	assert.Equal(t, PrecisionMedium, res.Precision)
	assert.Equal(t, 1, gc.calls)

	// Both tiers were populated; the geocoder is not consulted again.
	res = r.Resolve(ctx, nil, "新地址")
	assert.Equal(t, SourceLocalCache, res.Source)
	assert.Equal(t, 1, gc.calls)
	pt, ok := shared.Get(ctx, "新地址")
	require.True(t, ok)
	assert.Equal(t, gc.pt, pt)
}

func TestResolveOfflineSkipsGeocoder(t *testing.T) {
	ctx := context.Background()
	gc := &fakeGeocoder{pt: model.GeoPoint{Lat: 7, Lng: 8}}
	r := &Resolver{
		Local:    NewMemoryKV(),
		External: gc,
		Online:   func() bool { return false },
		Default:  defaultPt,
	}

	res := r.Resolve(ctx, nil, "离线地址")
	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, PrecisionLow, res.Precision)
	assert.Equal(t, defaultPt, res.Point)
	assert.Equal(t, 0, gc.calls)
}

func TestResolveGeocoderFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	gc := &fakeGeocoder{err: errors.New("quota exceeded")}
	r := &Resolver{Local: NewMemoryKV(), External: gc, Default: defaultPt}

	res := r.Resolve(ctx, nil, "烂地址")
	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, defaultPt, res.Point)
}

func TestResolveEmptyAddress(t *testing.T) {
	ctx := context.Background()
	r := &Resolver{Default: defaultPt}
	res := r.Resolve(ctx, nil, "   ")
	assert.Equal(t, SourceDefault, res.Source)
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	kv.Put(ctx, "k", model.GeoPoint{Lat: 1}, time.Hour)
	_, ok := kv.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = kv.Get(ctx, "k")
	assert.False(t, ok)

	// Zero TTL never expires.
	kv.Put(ctx, "p", model.GeoPoint{Lat: 2}, 0)
	now = now.Add(1000 * time.Hour)
	_, ok = kv.Get(ctx, "p")
	assert.True(t, ok)
}

func TestRedisKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	pt := model.GeoPoint{Lat: 9.5, Lng: -3.25}
	kv.Put(ctx, "addr", pt, time.Minute)
	got, ok := kv.Get(ctx, "addr")
	require.True(t, ok)
	assert.Equal(t, pt, got)

	mr.FastForward(2 * time.Minute)
	_, ok = kv.Get(ctx, "addr")
	assert.False(t, ok)
}
