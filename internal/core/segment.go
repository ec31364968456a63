package core

import (
	"context"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
)

type segmentAPI interface {
	GetSegmentStatus(ctx context.Context, imei string) (*gateway.SegmentStatus, error)
	SetupWorkHoursSegment(ctx context.Context, imei string) error
}

// SegmentService ensures devices carry the work-hours safety segment.
type SegmentService struct {
	gw     segmentAPI
	logger *logrus.Logger
}

// NewSegmentService creates a new segment service.
func NewSegmentService(gw segmentAPI, logger *logrus.Logger) *SegmentService {
	return &SegmentService{gw: gw, logger: logger}
}

// Ensure configures the work-hours segment on the device unless it is
// already present. A failed or empty status check does not block the write:
// the setup call is idempotent upstream, so pushing defaults to a device we
// could not inspect is safe.
func (s *SegmentService) Ensure(ctx context.Context, imei string) (*SegmentResult, error) {
	log := s.logger.WithField("imei", imei)

	status, err := s.gw.GetSegmentStatus(ctx, imei)
	if err != nil {
		log.WithError(err).Warn("Segment status check failed, proceeding with setup")
	} else if status.Configured {
		log.Info("Work-hours segment already configured")
		return &SegmentResult{Configured: false, Message: "Already configured"}, nil
	}

	if err := s.gw.SetupWorkHoursSegment(ctx, imei); err != nil {
		return nil, err
	}
	log.Info("Work-hours segment configured")
	return &SegmentResult{Configured: true, Message: "Configured with defaults"}, nil
}
