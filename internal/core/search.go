// services/install/internal/core/search.go
package core

import (
	"context"
	"strings"
	"unicode"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type installationAPI interface {
	GetInstallation(ctx context.Context, installationID string) (*gateway.InstallationRecord, error)
	ListInstallations(ctx context.Context) ([]gateway.InstallationRecord, error)
	CountVehiclesByVIN(ctx context.Context, vin string) (int, error)
	SearchGroupByName(ctx context.Context, name string) (int, error)
}

// InstallationOverview is the installation-status probe result: the upstream
// record plus whether the resources the workflow creates actually exist.
type InstallationOverview struct {
	InstallationID string                      `json:"installationId"`
	Status         string                      `json:"installation"`
	VehicleStatus  string                      `json:"vehicle"`
	GroupStatus    string                      `json:"group"`
	LastUpdated    string                      `json:"lastUpdated,omitempty"`
	Record         *gateway.InstallationRecord `json:"details,omitempty"`
}

// SearchService finds installation records and probes their provisioning
// state.
type SearchService struct {
	gw     installationAPI
	logger *logrus.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(gw installationAPI, logger *logrus.Logger) *SearchService {
	return &SearchService{gw: gw, logger: logger}
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldForSearch strips accents and uppercases so "Muñoz" matches "MUNOZ".
func foldForSearch(s string) string {
	folded, _, err := transform.String(accentStripper, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(folded)
}

// Search filters the full installation list by insured name (substring) or
// VIN (prefix), both matched accent- and case-insensitively.
func (s *SearchService) Search(ctx context.Context, query string) ([]gateway.InstallationRecord, error) {
	records, err := s.gw.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}

	needle := foldForSearch(strings.TrimSpace(query))
	if needle == "" {
		return records, nil
	}

	matched := make([]gateway.InstallationRecord, 0)
	for _, rec := range records {
		name := foldForSearch(rec.ClientName())
		vin := strings.ToUpper(rec.VIN())
		if (name != "" && strings.Contains(name, needle)) ||
			(vin != "" && strings.HasPrefix(vin, needle)) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// Overview fetches an installation record and probes whether its vehicle and
// group were provisioned. Probe failures degrade to "unknown" rather than
// failing the request.
func (s *SearchService) Overview(ctx context.Context, installationID string) (*InstallationOverview, error) {
	record, err := s.gw.GetInstallation(ctx, installationID)
	if err != nil {
		return nil, err
	}

	overview := &InstallationOverview{
		InstallationID: installationID,
		Status:         record.Status,
		VehicleStatus:  "unknown",
		GroupStatus:    "unknown",
		Record:         record,
	}
	if overview.Status == "" {
		overview.Status = "unknown"
	}
	if record.UpdatedAt != "" {
		overview.LastUpdated = record.UpdatedAt
	} else {
		overview.LastUpdated = record.CreatedAt
	}

	if vin := record.VIN(); vin != "" {
		if count, err := s.gw.CountVehiclesByVIN(ctx, vin); err != nil {
			s.logger.WithError(err).WithField("vin", vin).Warn("Vehicle probe failed")
		} else if count > 0 {
			overview.VehicleStatus = "created"
		} else {
			overview.VehicleStatus = "not_found"
		}
	}

	if record.Insured != nil && record.Insured.FirstName != "" {
		if id, err := s.gw.SearchGroupByName(ctx, record.Insured.FirstName); err != nil {
			s.logger.WithError(err).Warn("Group probe failed")
		} else if id != 0 {
			overview.GroupStatus = "created"
		} else {
			overview.GroupStatus = "not_found"
		}
	}

	return overview, nil
}
