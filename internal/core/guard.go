package core

import (
	"context"
	"strings"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
)

type installationFetcher interface {
	GetInstallation(ctx context.Context, installationID string) (*gateway.InstallationRecord, error)
}

// GuardService decides whether an installation has already been processed
// before any mutating work starts.
type GuardService struct {
	gw     installationFetcher
	logger *logrus.Logger
}

// NewGuardService creates a new guard service.
func NewGuardService(gw installationFetcher, logger *logrus.Logger) *GuardService {
	return &GuardService{gw: gw, logger: logger}
}

// IsDuplicate reports whether the installation record upstream is already in
// a terminal confirmed state. Any failure to check resolves to false:
// availability is preferred over strict duplicate prevention, and a blocked
// installer costs more than a rare repeat call.
func (s *GuardService) IsDuplicate(ctx context.Context, installationID string) bool {
	record, err := s.gw.GetInstallation(ctx, installationID)
	if err != nil {
		s.logger.WithError(err).WithField("installation_id", installationID).
			Warn("Duplicate check failed, proceeding")
		return false
	}

	switch strings.ToLower(record.Status) {
	case "completed", "confirmed":
		return true
	}
	return false
}
