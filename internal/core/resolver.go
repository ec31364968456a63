package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
)

type groupAPI interface {
	SearchGroupByName(ctx context.Context, name string) (int, error)
	CreateGroup(ctx context.Context, name string) (int, error)
}

// naSuffix matches the junk "NA" suffixes some intake forms append to client
// names (" NA", " NA/", " NA /").
var naSuffix = regexp.MustCompile(`(?i)\s+NA\s*/?\s*$`)

// NormalizeClientName strips junk suffixes and surrounding whitespace from a
// submitted client name.
func NormalizeClientName(name string) string {
	return strings.TrimSpace(naSuffix.ReplaceAllString(name, ""))
}

// SecondaryGroupName derives the group name used for a client's secondary
// device installation.
func SecondaryGroupName(clientName string) string {
	return clientName + " (2)"
}

// ResolverService maps client names to gateway group ids, creating groups on
// demand.
type ResolverService struct {
	gw     groupAPI
	logger *logrus.Logger
}

// NewResolverService creates a new resolver service.
func NewResolverService(gw groupAPI, logger *logrus.Logger) *ResolverService {
	return &ResolverService{gw: gw, logger: logger}
}

// ResolveGroup finds the group for a client name or creates it. When the
// create is rejected because the name is already taken, the search runs once
// more to pick up the concurrently created group; the retry is not repeated
// beyond that.
func (s *ResolverService) ResolveGroup(ctx context.Context, clientName string) (int, bool, error) {
	name := NormalizeClientName(clientName)
	if name == "" {
		return 0, false, NewBusinessError("VALIDATION_CLIENT_NAME", "client name is empty after normalization")
	}

	log := s.logger.WithField("client_name", name)

	id, err := s.gw.SearchGroupByName(ctx, name)
	if err != nil {
		log.WithError(err).Warn("Group search failed, attempting create")
	} else if id != 0 {
		log.WithField("group_id", id).Info("Found existing client group")
		return id, false, nil
	}

	id, err = s.gw.CreateGroup(ctx, name)
	if err == nil {
		log.WithField("group_id", id).Info("Created client group")
		return id, true, nil
	}

	if gateway.IsNameConflict(err) {
		log.Info("Group name taken, re-searching")
		id, searchErr := s.gw.SearchGroupByName(ctx, name)
		if searchErr == nil && id != 0 {
			return id, false, nil
		}
		return 0, false, fmt.Errorf("%w: name taken but not found on re-search", ErrGroupNotResolved)
	}

	return 0, false, fmt.Errorf("%w: %v", ErrGroupNotResolved, err)
}
