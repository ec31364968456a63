package core

import (
	"context"
	"errors"
	"testing"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFleet emulates the whole gateway surface the workflow touches.
type fakeFleet struct {
	installation *gateway.InstallationRecord

	groups      map[string]int
	nextGroupID int

	vehicles    []createdVehicle
	vehicleErr  error
	nextVehicle int

	sims      map[string]*gateway.SimRecord
	simWrites []string

	segmentConfigured map[string]bool
	segmentErr        error
}

type createdVehicle struct {
	name    string
	vin     string
	imei    string
	groupID int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		installation:      &gateway.InstallationRecord{Status: "pending"},
		groups:            make(map[string]int),
		nextGroupID:       100,
		nextVehicle:       500,
		sims:              make(map[string]*gateway.SimRecord),
		segmentConfigured: make(map[string]bool),
	}
}

func (f *fakeFleet) GetInstallation(_ context.Context, _ string) (*gateway.InstallationRecord, error) {
	return f.installation, nil
}

func (f *fakeFleet) SearchGroupByName(_ context.Context, name string) (int, error) {
	return f.groups[name], nil
}

func (f *fakeFleet) CreateGroup(_ context.Context, name string) (int, error) {
	f.nextGroupID++
	f.groups[name] = f.nextGroupID
	return f.nextGroupID, nil
}

func (f *fakeFleet) CreateVehicle(_ context.Context, name, vin, imei string, groupID int) (int, error) {
	if f.vehicleErr != nil {
		return 0, f.vehicleErr
	}
	f.vehicles = append(f.vehicles, createdVehicle{name: name, vin: vin, imei: imei, groupID: groupID})
	f.nextVehicle++
	return f.nextVehicle, nil
}

func (f *fakeFleet) Instances() []gateway.Instance {
	return []gateway.Instance{{Name: "fleet"}, {Name: "warehouse"}}
}

func (f *fakeFleet) FindSim(_ context.Context, inst gateway.Instance, _, iccid string) (*gateway.SimRecord, error) {
	if sim, ok := f.sims[inst.Name+"/"+iccid]; ok {
		return sim, nil
	}
	return nil, nil
}

func (f *fakeFleet) SetSimStatus(_ context.Context, _ gateway.Instance, _, sid, status string) (*gateway.SimRecord, error) {
	f.simWrites = append(f.simWrites, sid)
	return &gateway.SimRecord{Sid: sid, Status: status}, nil
}

func (f *fakeFleet) GetSegmentStatus(_ context.Context, imei string) (*gateway.SegmentStatus, error) {
	if f.segmentErr != nil {
		return nil, f.segmentErr
	}
	return &gateway.SegmentStatus{Found: true, Configured: f.segmentConfigured[imei]}, nil
}

func (f *fakeFleet) SetupWorkHoursSegment(_ context.Context, imei string) error {
	f.segmentConfigured[imei] = true
	return nil
}

type recordedError struct {
	sessionID, step, message string
}

type fakeRecorder struct {
	errors []recordedError
}

func (r *fakeRecorder) LogStepError(sessionID, step, message string) {
	r.errors = append(r.errors, recordedError{sessionID, step, message})
}

type fakeEvents struct {
	published []string
}

func (e *fakeEvents) PublishEvent(_ context.Context, eventType string, _ interface{}) error {
	e.published = append(e.published, eventType)
	return nil
}

func newTestWorkflow(fleet *fakeFleet, recorder *fakeRecorder, events *fakeEvents) *WorkflowService {
	logger := testLogger()
	return NewWorkflowService(
		NewGuardService(fleet, logger),
		NewResolverService(fleet, logger),
		NewSimService(fleet, logger),
		NewSegmentService(fleet, logger),
		fleet,
		recorder,
		events,
		logger,
	)
}

func TestRunCompletesFullWorkflow(t *testing.T) {
	fleet := newFakeFleet()
	fleet.sims["fleet/8988307000000000001"] = &gateway.SimRecord{Sid: "SIM1", Status: "inactive"}
	events := &fakeEvents{}
	svc := newTestWorkflow(fleet, &fakeRecorder{}, events)

	details, err := svc.Run(context.Background(), &InstallationRequest{
		InstallationID: "INST-1",
		ClientName:     "Acme NA",
		VIN:            "3N1AB7AP0KY000001",
		PrimaryIMEI:    "860000000000001",
		SimICCID:       "8988307000000000001",
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme", details.ClientName)
	assert.True(t, details.GroupCreated)
	assert.NotZero(t, details.GroupID)
	assert.NotZero(t, details.VehicleID)
	assert.Equal(t, "3N1AB7AP0KY000001", details.VehicleName)
	assert.True(t, details.SimProcessed)
	assert.Equal(t, "active", details.SimStatus)
	assert.NotEmpty(t, details.HosConfiguration.Primary)
	assert.False(t, details.Secondary)

	require.Len(t, fleet.vehicles, 1)
	assert.Equal(t, "3N1AB7AP0KY000001", fleet.vehicles[0].name)
	assert.Equal(t, "860000000000001", fleet.vehicles[0].imei)
	assert.True(t, fleet.segmentConfigured["860000000000001"])

	assert.Contains(t, events.published, "installation.recorded")
	assert.Contains(t, events.published, "worksheet.clear")
	assert.Contains(t, events.published, "installation.completed")
}

func TestRunRejectsDuplicate(t *testing.T) {
	fleet := newFakeFleet()
	fleet.installation = &gateway.InstallationRecord{Status: "completed"}
	svc := newTestWorkflow(fleet, &fakeRecorder{}, &fakeEvents{})

	_, err := svc.Run(context.Background(), &InstallationRequest{
		InstallationID: "INST-1",
		ClientName:     "Acme",
		VIN:            "VIN1",
		PrimaryIMEI:    "860000000000001",
	})
	assert.ErrorIs(t, err, ErrDuplicateInstallation)
	assert.Empty(t, fleet.vehicles)
}

func TestRunWithoutSimSkipsSimStep(t *testing.T) {
	fleet := newFakeFleet()
	svc := newTestWorkflow(fleet, &fakeRecorder{}, &fakeEvents{})

	details, err := svc.Run(context.Background(), &InstallationRequest{
		InstallationID: "INST-1",
		ClientName:     "Acme",
		VIN:            "VIN1",
		PrimaryIMEI:    "860000000000001",
	})
	require.NoError(t, err)
	assert.False(t, details.SimProcessed)
	assert.Empty(t, details.SimStatus)
	assert.False(t, details.SecondaryDeviceProcessed)
	assert.NotEmpty(t, details.HosConfiguration.Primary)
	assert.Empty(t, fleet.simWrites)
}

func TestRunFailureRecordsStepAndPublishes(t *testing.T) {
	fleet := newFakeFleet()
	fleet.vehicleErr = errors.New("vehicle rejected")
	recorder := &fakeRecorder{}
	events := &fakeEvents{}
	svc := newTestWorkflow(fleet, recorder, events)

	_, err := svc.Run(context.Background(), &InstallationRequest{
		InstallationID: "INST-1",
		ClientName:     "Acme",
		VIN:            "VIN1",
		PrimaryIMEI:    "860000000000001",
		SessionID:      "session_1",
	})
	require.Error(t, err)

	require.Len(t, recorder.errors, 1)
	assert.Equal(t, "session_1", recorder.errors[0].sessionID)
	assert.Equal(t, "vinSelection", recorder.errors[0].step)
	assert.Contains(t, events.published, "installation.failed")
	assert.NotContains(t, events.published, "installation.completed")
}

func TestRunSecondaryCreatesSecondaryResources(t *testing.T) {
	fleet := newFakeFleet()
	fleet.sims["fleet/8901260000000000009"] = &gateway.SimRecord{Sid: "SIM9", Status: "new"}
	svc := newTestWorkflow(fleet, &fakeRecorder{}, &fakeEvents{})

	details, err := svc.RunSecondary(context.Background(), &InstallationRequest{
		InstallationID: "INST-2",
		ClientName:     "Acme",
		VIN:            "VIN9",
		SecondaryIMEI:  "860000000000002",
		SecondaryICCID: "8901260000000000009",
	})
	require.NoError(t, err)

	assert.True(t, details.Secondary)
	assert.Equal(t, "VIN9 (2)", details.VehicleName)
	assert.True(t, details.SecondaryDeviceProcessed)
	assert.True(t, details.SecondarySimProcessed)
	assert.Equal(t, []string{"SIM9"}, fleet.simWrites)

	require.Len(t, fleet.vehicles, 1)
	assert.Equal(t, "VIN9 (2)", fleet.vehicles[0].name)
	assert.Equal(t, "860000000000002", fleet.vehicles[0].imei)
	assert.Equal(t, fleet.groups["Acme (2)"], fleet.vehicles[0].groupID)
	assert.True(t, fleet.segmentConfigured["860000000000002"])
}

func TestRunPrimaryWithSecondaryDevice(t *testing.T) {
	fleet := newFakeFleet()
	fleet.sims["warehouse/8988307000000000002"] = &gateway.SimRecord{Sid: "SIM2", Status: "inactive"}
	svc := newTestWorkflow(fleet, &fakeRecorder{}, &fakeEvents{})

	details, err := svc.Run(context.Background(), &InstallationRequest{
		InstallationID: "INST-3",
		ClientName:     "Acme",
		VIN:            "VIN3",
		PrimaryIMEI:    "860000000000001",
		SecondaryIMEI:  "860000000000002",
		SecondaryICCID: "8988307000000000002",
	})
	require.NoError(t, err)

	// Primary details win; the secondary vehicle exists alongside.
	assert.Equal(t, "VIN3", details.VehicleName)
	require.Len(t, fleet.vehicles, 2)
	assert.Equal(t, "VIN3 (2)", fleet.vehicles[1].name)
	assert.NotEqual(t, fleet.vehicles[0].groupID, fleet.vehicles[1].groupID)

	// The secondary SIM is activated even though no primary SIM was given.
	assert.Equal(t, []string{"SIM2"}, fleet.simWrites)
	assert.False(t, details.SimProcessed)
	assert.True(t, details.SecondaryDeviceProcessed)
	assert.True(t, details.SecondarySimProcessed)
	assert.Equal(t, "active", details.SecondarySimStatus)
	assert.Equal(t, "warehouse", details.SecondarySimInstance)
	assert.NotEmpty(t, details.HosConfiguration.Primary)
	assert.NotEmpty(t, details.HosConfiguration.Secondary)
}
