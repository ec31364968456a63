// services/install/internal/core/device.go
package core

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
)

// Freshness thresholds for device status validation.
const (
	locationFreshWindow = 60 * time.Second
	activityFreshWindow = 300 * time.Second

	snapshotCacheTTL = 15 * time.Second
)

// Device link states.
const (
	LinkStateNeverLinked = "never_linked"
	LinkStateUnlinked    = "unlinked"
	LinkStateLinked      = "linked"
)

type deviceAPI interface {
	GetDevice(ctx context.Context, imei string) (*gateway.DeviceSnapshot, error)
}

// Cache is a small read-through cache. Implementations must tolerate being
// nil-backed and simply miss.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DeviceVerification is the link-state precheck result. A device is usable
// for installation only before its first vehicle link or after an unlink.
type DeviceVerification struct {
	Usable      bool                    `json:"usable"`
	State       string                  `json:"deviceState"`
	VehicleName string                  `json:"vehicleName,omitempty"`
	VehicleID   string                  `json:"vehicleId,omitempty"`
	Snapshot    *gateway.DeviceSnapshot `json:"deviceData,omitempty"`
}

// DeviceStatus carries the snapshot plus freshness validation flags.
type DeviceStatus struct {
	IsReporting         bool                    `json:"isReporting"`
	IsOnline            bool                    `json:"isOnline"`
	ConnectionState     string                  `json:"connectionState"`
	HasRecentConnection bool                    `json:"hasRecentConnection"`
	HasRecentActivity   bool                    `json:"hasRecentActivity"`
	LocationAge         float64                 `json:"locationAge"`
	LastRxAge           *int64                  `json:"lastRxAge,omitempty"`
	Snapshot            *gateway.DeviceSnapshot `json:"deviceData"`
	CheckedAt           time.Time               `json:"checkedAt"`
}

// Valid reports whether every validation flag passed.
func (s *DeviceStatus) Valid() bool {
	return s.IsReporting && s.IsOnline && s.HasRecentConnection && s.HasRecentActivity
}

// DeviceService verifies device link state and reports live status.
type DeviceService struct {
	gw     deviceAPI
	cache  Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewDeviceService creates a new device service. cache may be nil.
func NewDeviceService(gw deviceAPI, cache Cache, logger *logrus.Logger) *DeviceService {
	return &DeviceService{gw: gw, cache: cache, logger: logger, now: time.Now}
}

// VerifyLinkState checks whether the device can be used for a new
// installation. A vehicle object holding only residual fields after an
// unlink does not count as a link.
func (s *DeviceService) VerifyLinkState(ctx context.Context, imei string) (*DeviceVerification, error) {
	snap, err := s.fetch(ctx, imei)
	if err != nil {
		return nil, err
	}
	if snap.IMEI.String() == "" {
		return nil, NewBusinessError("DEVICE_INVALID_DATA", "invalid device data received from gateway")
	}

	hasVehicle := snap.Vehicle != nil
	linked := hasVehicle && snap.Vehicle.Name != "" && snap.Vehicle.ID.String() != ""

	v := &DeviceVerification{Snapshot: snap}
	switch {
	case linked:
		v.State = LinkStateLinked
		v.VehicleName = snap.Vehicle.Name
		v.VehicleID = snap.Vehicle.ID.String()
	case hasVehicle:
		v.State = LinkStateUnlinked
		v.Usable = true
	default:
		v.State = LinkStateNeverLinked
		v.Usable = true
	}
	return v, nil
}

// Status fetches the device snapshot and derives freshness flags. Location
// age doubles as the connection-freshness signal since it updates in real
// time while the connection epoch can lag.
func (s *DeviceService) Status(ctx context.Context, imei string) (*DeviceStatus, error) {
	snap, err := s.fetch(ctx, imei)
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := &DeviceStatus{
		Snapshot:        snap,
		ConnectionState: "unknown",
		CheckedAt:       now,
	}

	var locationAge float64
	hasCoords := false
	if snap.Latest != nil && snap.Latest.Loc != nil {
		locationAge = snap.Latest.Loc.Age
		hasCoords = snap.Latest.Loc.Lat != nil && snap.Latest.Loc.Lon != nil
	}
	status.LocationAge = locationAge
	status.IsReporting = hasCoords && locationAge <= locationFreshWindow.Seconds()
	status.HasRecentConnection = locationAge <= activityFreshWindow.Seconds()

	if snap.Connection != nil {
		status.IsOnline = snap.Connection.Online
		if snap.Connection.Last != nil && snap.Connection.Last.State != "" {
			status.ConnectionState = snap.Connection.Last.State
		}
	}

	if snap.LastRx != nil && snap.LastRx.Epoch > 0 {
		age := now.Unix() - snap.LastRx.Epoch
		status.LastRxAge = &age
		status.HasRecentActivity = age <= int64(activityFreshWindow.Seconds())
	}

	return status, nil
}

func (s *DeviceService) fetch(ctx context.Context, imei string) (*gateway.DeviceSnapshot, error) {
	key := "device:snapshot:" + imei

	if s.cache != nil {
		var cached gateway.DeviceSnapshot
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.WithError(err).WithField("imei", imei).Warn("Snapshot cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	snap, err := s.gw.GetDevice(ctx, imei)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device %s: %w", imei, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, snap, snapshotCacheTTL); err != nil {
			s.logger.WithError(err).WithField("imei", imei).Warn("Snapshot cache write failed")
		}
	}
	return snap, nil
}
