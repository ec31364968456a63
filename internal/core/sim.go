// services/install/internal/core/sim.go
package core

import (
	"context"
	"strings"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
)

// SIM product families by ICCID issuer prefix.
const (
	FamilySupersims = "supersims"
	FamilyWireless  = "wireless"
)

type simAPI interface {
	Instances() []gateway.Instance
	FindSim(ctx context.Context, inst gateway.Instance, family, iccid string) (*gateway.SimRecord, error)
	SetSimStatus(ctx context.Context, inst gateway.Instance, family, sid, status string) (*gateway.SimRecord, error)
}

// ClassifyIccid maps an ICCID to its product family by issuer prefix.
// Unrecognized prefixes fail before any network call is made.
func ClassifyIccid(iccid string) (string, error) {
	switch {
	case strings.HasPrefix(iccid, "8988"):
		return FamilySupersims, nil
	case strings.HasPrefix(iccid, "8901"):
		return FamilyWireless, nil
	default:
		return "", ErrInvalidIccid
	}
}

// SimService locates SIMs across the gateway instances and activates them.
type SimService struct {
	gw     simAPI
	logger *logrus.Logger
}

// NewSimService creates a new SIM service.
func NewSimService(gw simAPI, logger *logrus.Logger) *SimService {
	return &SimService{gw: gw, logger: logger}
}

// Lookup searches every instance in configured order and reports where the
// SIM lives and its current status, without mutating anything.
func (s *SimService) Lookup(ctx context.Context, iccid string) (*SimResult, error) {
	family, err := ClassifyIccid(iccid)
	if err != nil {
		return nil, err
	}

	for _, inst := range s.gw.Instances() {
		sim, err := s.gw.FindSim(ctx, inst, family, iccid)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"iccid":    iccid,
				"instance": inst.Name,
			}).Warn("SIM lookup failed on instance")
			continue
		}
		if sim != nil {
			return &SimResult{
				Activated: strings.EqualFold(sim.Status, "active"),
				Status:    sim.Status,
				Instance:  inst.Name,
				Family:    family,
				Sid:       sim.Sid,
			}, nil
		}
	}
	return nil, ErrSimNotFound
}

// Activate finds the SIM across the instances in configured order and turns
// it active on the one that holds it. Exactly one mutating call is issued;
// the status write is idempotent upstream, so an already-active SIM is
// simply re-asserted.
func (s *SimService) Activate(ctx context.Context, iccid string) (*SimResult, error) {
	family, err := ClassifyIccid(iccid)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{"iccid": iccid, "family": family})

	for _, inst := range s.gw.Instances() {
		sim, err := s.gw.FindSim(ctx, inst, family, iccid)
		if err != nil {
			log.WithError(err).WithField("instance", inst.Name).
				Warn("SIM search failed on instance, trying next")
			continue
		}
		if sim == nil {
			continue
		}

		updated, err := s.gw.SetSimStatus(ctx, inst, family, sim.Sid, "active")
		if err != nil {
			return nil, err
		}
		log.WithField("instance", inst.Name).Info("SIM activated")
		return &SimResult{
			Activated: true,
			Status:    updated.Status,
			Instance:  inst.Name,
			Family:    family,
			Sid:       updated.Sid,
			Message:   "SIM activated",
		}, nil
	}

	return nil, ErrSimNotFound
}
