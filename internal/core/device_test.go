package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeviceAPI struct {
	snapshot *gateway.DeviceSnapshot
	err      error
	calls    int
}

func (f *fakeDeviceAPI) GetDevice(_ context.Context, _ string) (*gateway.DeviceSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

// memoryCache is a minimal Cache for testing read-through behavior.
type memoryCache struct {
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func TestVerifyLinkStateNeverLinked(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{IMEI: "860000000000001"}}
	svc := NewDeviceService(gw, nil, testLogger())

	v, err := svc.VerifyLinkState(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.True(t, v.Usable)
	assert.Equal(t, LinkStateNeverLinked, v.State)
}

func TestVerifyLinkStateUnlinkedResidualVehicle(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI:    "860000000000001",
		Vehicle: &gateway.DeviceVehicle{},
	}}
	svc := NewDeviceService(gw, nil, testLogger())

	v, err := svc.VerifyLinkState(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.True(t, v.Usable)
	assert.Equal(t, LinkStateUnlinked, v.State)
}

func TestVerifyLinkStateLinked(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI:    "860000000000001",
		Vehicle: &gateway.DeviceVehicle{ID: "77", Name: "3N1AB7AP0KY000001"},
	}}
	svc := NewDeviceService(gw, nil, testLogger())

	v, err := svc.VerifyLinkState(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.False(t, v.Usable)
	assert.Equal(t, LinkStateLinked, v.State)
	assert.Equal(t, "3N1AB7AP0KY000001", v.VehicleName)
	assert.Equal(t, "77", v.VehicleID)
}

func TestVerifyLinkStateRejectsEmptySnapshot(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{}}
	svc := NewDeviceService(gw, nil, testLogger())

	_, err := svc.VerifyLinkState(context.Background(), "860000000000001")
	var bizErr BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "DEVICE_INVALID_DATA", bizErr.Code)
}

func TestStatusFreshDeviceIsValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI: "860000000000001",
		Latest: &gateway.DeviceLatest{Loc: &gateway.DeviceLocation{
			Valid: true, Age: 30, Lat: floatPtr(19.4), Lon: floatPtr(-99.1),
		}},
		Connection: &gateway.DeviceConnection{Online: true, Last: &gateway.DeviceState{State: "connected"}},
		LastRx:     &gateway.DeviceEpoch{Epoch: now.Unix() - 120},
	}}
	svc := NewDeviceService(gw, nil, testLogger())
	svc.now = func() time.Time { return now }

	status, err := svc.Status(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.True(t, status.IsReporting)
	assert.True(t, status.IsOnline)
	assert.True(t, status.HasRecentConnection)
	assert.True(t, status.HasRecentActivity)
	assert.Equal(t, "connected", status.ConnectionState)
	require.NotNil(t, status.LastRxAge)
	assert.Equal(t, int64(120), *status.LastRxAge)
	assert.True(t, status.Valid())
}

func TestStatusStaleLocationIsNotReporting(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI: "860000000000001",
		Latest: &gateway.DeviceLatest{Loc: &gateway.DeviceLocation{
			Valid: true, Age: 90, Lat: floatPtr(19.4), Lon: floatPtr(-99.1),
		}},
		Connection: &gateway.DeviceConnection{Online: true},
		LastRx:     &gateway.DeviceEpoch{Epoch: now.Unix() - 10},
	}}
	svc := NewDeviceService(gw, nil, testLogger())
	svc.now = func() time.Time { return now }

	status, err := svc.Status(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.False(t, status.IsReporting)
	// 90s is stale for reporting but still within the connection window.
	assert.True(t, status.HasRecentConnection)
	assert.False(t, status.Valid())
}

func TestStatusMissingCoordinatesIsNotReporting(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI:   "860000000000001",
		Latest: &gateway.DeviceLatest{Loc: &gateway.DeviceLocation{Valid: true, Age: 5}},
	}}
	svc := NewDeviceService(gw, nil, testLogger())

	status, err := svc.Status(context.Background(), "860000000000001")
	require.NoError(t, err)
	assert.False(t, status.IsReporting)
	assert.Equal(t, "unknown", status.ConnectionState)
	assert.Nil(t, status.LastRxAge)
	assert.False(t, status.HasRecentActivity)
}

func TestStatusStaleActivity(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{
		IMEI:   "860000000000001",
		LastRx: &gateway.DeviceEpoch{Epoch: now.Unix() - 600},
	}}
	svc := NewDeviceService(gw, nil, testLogger())
	svc.now = func() time.Time { return now }

	status, err := svc.Status(context.Background(), "860000000000001")
	require.NoError(t, err)
	require.NotNil(t, status.LastRxAge)
	assert.Equal(t, int64(600), *status.LastRxAge)
	assert.False(t, status.HasRecentActivity)
}

func TestFetchUsesCache(t *testing.T) {
	gw := &fakeDeviceAPI{snapshot: &gateway.DeviceSnapshot{IMEI: "860000000000001"}}
	cache := newMemoryCache()
	svc := NewDeviceService(gw, cache, testLogger())

	_, err := svc.VerifyLinkState(context.Background(), "860000000000001")
	require.NoError(t, err)
	_, err = svc.VerifyLinkState(context.Background(), "860000000000001")
	require.NoError(t, err)

	assert.Equal(t, 1, gw.calls)
}
