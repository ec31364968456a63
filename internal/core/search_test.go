package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstallationAPI struct {
	records    []gateway.InstallationRecord
	record     *gateway.InstallationRecord
	listErr    error
	vinCount   int
	vinErr     error
	groupID    int
	groupErr   error
	groupQuery string
}

func (f *fakeInstallationAPI) GetInstallation(_ context.Context, _ string) (*gateway.InstallationRecord, error) {
	return f.record, nil
}

func (f *fakeInstallationAPI) ListInstallations(_ context.Context) ([]gateway.InstallationRecord, error) {
	return f.records, f.listErr
}

func (f *fakeInstallationAPI) CountVehiclesByVIN(_ context.Context, _ string) (int, error) {
	return f.vinCount, f.vinErr
}

func (f *fakeInstallationAPI) SearchGroupByName(_ context.Context, name string) (int, error) {
	f.groupQuery = name
	return f.groupID, f.groupErr
}

func installationWith(id, firstName, lastName, vin string) gateway.InstallationRecord {
	return gateway.InstallationRecord{
		ID:      json.Number(id),
		Status:  "pending",
		Insured: &gateway.Insured{FirstName: firstName, LastName: lastName},
		Vehicle: &gateway.InsuredVehicle{VIN: vin},
	}
}

func TestFoldForSearch(t *testing.T) {
	assert.Equal(t, "MUNOZ", foldForSearch("Muñoz"))
	assert.Equal(t, "JOSE PEREZ", foldForSearch("José Pérez"))
	assert.Equal(t, "ACME", foldForSearch("acme"))
}

func TestSearchMatchesNameSubstring(t *testing.T) {
	gw := &fakeInstallationAPI{records: []gateway.InstallationRecord{
		installationWith("1", "José", "Muñoz", "3N1AB7AP0KY000001"),
		installationWith("2", "Acme", "Transport", "JTDBT923771000002"),
	}}
	svc := NewSearchService(gw, testLogger())

	results, err := svc.Search(context.Background(), "munoz")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "José Muñoz", results[0].ClientName())
}

func TestSearchMatchesVINPrefix(t *testing.T) {
	gw := &fakeInstallationAPI{records: []gateway.InstallationRecord{
		installationWith("1", "José", "Muñoz", "3N1AB7AP0KY000001"),
		installationWith("2", "Acme", "Transport", "JTDBT923771000002"),
	}}
	svc := NewSearchService(gw, testLogger())

	results, err := svc.Search(context.Background(), "jtdbt")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "JTDBT923771000002", results[0].VIN())
}

func TestSearchVINRequiresPrefixNotSubstring(t *testing.T) {
	gw := &fakeInstallationAPI{records: []gateway.InstallationRecord{
		installationWith("1", "José", "Muñoz", "3N1AB7AP0KY000001"),
	}}
	svc := NewSearchService(gw, testLogger())

	results, err := svc.Search(context.Background(), "AB7AP")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchEmptyQueryReturnsEverything(t *testing.T) {
	gw := &fakeInstallationAPI{records: []gateway.InstallationRecord{
		installationWith("1", "José", "Muñoz", "3N1AB7AP0KY000001"),
		installationWith("2", "Acme", "Transport", "JTDBT923771000002"),
	}}
	svc := NewSearchService(gw, testLogger())

	results, err := svc.Search(context.Background(), "  ")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchPropagatesListFailure(t *testing.T) {
	gw := &fakeInstallationAPI{listErr: errors.New("upstream down")}
	svc := NewSearchService(gw, testLogger())

	_, err := svc.Search(context.Background(), "acme")
	assert.Error(t, err)
}

func TestOverviewReportsProvisionedResources(t *testing.T) {
	gw := &fakeInstallationAPI{
		record: &gateway.InstallationRecord{
			Status:    "completed",
			UpdatedAt: "2025-06-01T12:00:00Z",
			Insured:   &gateway.Insured{FirstName: "Acme"},
			Vehicle:   &gateway.InsuredVehicle{VIN: "3N1AB7AP0KY000001"},
		},
		vinCount: 1,
		groupID:  42,
	}
	svc := NewSearchService(gw, testLogger())

	overview, err := svc.Overview(context.Background(), "INST-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", overview.Status)
	assert.Equal(t, "created", overview.VehicleStatus)
	assert.Equal(t, "created", overview.GroupStatus)
	assert.Equal(t, "2025-06-01T12:00:00Z", overview.LastUpdated)
	assert.Equal(t, "Acme", gw.groupQuery)
}

func TestOverviewMissingResources(t *testing.T) {
	gw := &fakeInstallationAPI{
		record: &gateway.InstallationRecord{
			Status:  "pending",
			Insured: &gateway.Insured{FirstName: "Acme"},
			Vehicle: &gateway.InsuredVehicle{VIN: "3N1AB7AP0KY000001"},
		},
	}
	svc := NewSearchService(gw, testLogger())

	overview, err := svc.Overview(context.Background(), "INST-1")
	require.NoError(t, err)
	assert.Equal(t, "not_found", overview.VehicleStatus)
	assert.Equal(t, "not_found", overview.GroupStatus)
}

func TestOverviewProbeFailuresDegradeToUnknown(t *testing.T) {
	gw := &fakeInstallationAPI{
		record: &gateway.InstallationRecord{
			Status:  "pending",
			Insured: &gateway.Insured{FirstName: "Acme"},
			Vehicle: &gateway.InsuredVehicle{VIN: "3N1AB7AP0KY000001"},
		},
		vinErr:   errors.New("timeout"),
		groupErr: errors.New("timeout"),
	}
	svc := NewSearchService(gw, testLogger())

	overview, err := svc.Overview(context.Background(), "INST-1")
	require.NoError(t, err)
	assert.Equal(t, "unknown", overview.VehicleStatus)
	assert.Equal(t, "unknown", overview.GroupStatus)
}

func TestOverviewWithoutRecordDetails(t *testing.T) {
	gw := &fakeInstallationAPI{record: &gateway.InstallationRecord{}}
	svc := NewSearchService(gw, testLogger())

	overview, err := svc.Overview(context.Background(), "INST-1")
	require.NoError(t, err)
	assert.Equal(t, "unknown", overview.Status)
	assert.Equal(t, "unknown", overview.VehicleStatus)
	assert.Equal(t, "unknown", overview.GroupStatus)
}
