package core

import (
	"context"
	"testing"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSimAPI struct {
	instances   []gateway.Instance
	sims        map[string]*gateway.SimRecord // keyed by instance name
	findErr     map[string]error
	findCalls   []string
	statusCalls []string
}

func (f *fakeSimAPI) Instances() []gateway.Instance { return f.instances }

func (f *fakeSimAPI) FindSim(_ context.Context, inst gateway.Instance, _, _ string) (*gateway.SimRecord, error) {
	f.findCalls = append(f.findCalls, inst.Name)
	if err := f.findErr[inst.Name]; err != nil {
		return nil, err
	}
	return f.sims[inst.Name], nil
}

func (f *fakeSimAPI) SetSimStatus(_ context.Context, inst gateway.Instance, _, sid, status string) (*gateway.SimRecord, error) {
	f.statusCalls = append(f.statusCalls, inst.Name)
	return &gateway.SimRecord{Sid: sid, Status: status}, nil
}

func twoInstances() []gateway.Instance {
	return []gateway.Instance{{Name: "fleet"}, {Name: "warehouse"}}
}

func TestClassifyIccid(t *testing.T) {
	family, err := ClassifyIccid("8988307000000000000")
	require.NoError(t, err)
	assert.Equal(t, FamilySupersims, family)

	family, err = ClassifyIccid("8901260000000000000")
	require.NoError(t, err)
	assert.Equal(t, FamilyWireless, family)

	_, err = ClassifyIccid("1234567890")
	assert.ErrorIs(t, err, ErrInvalidIccid)
}

func TestActivateInvalidIccidMakesNoCalls(t *testing.T) {
	gw := &fakeSimAPI{instances: twoInstances()}
	svc := NewSimService(gw, testLogger())

	_, err := svc.Activate(context.Background(), "0000000000")
	assert.ErrorIs(t, err, ErrInvalidIccid)
	assert.Empty(t, gw.findCalls)
	assert.Empty(t, gw.statusCalls)
}

func TestActivateSearchesInstancesInOrder(t *testing.T) {
	gw := &fakeSimAPI{
		instances: twoInstances(),
		sims: map[string]*gateway.SimRecord{
			"warehouse": {Sid: "SIM1", Status: "inactive"},
		},
	}
	svc := NewSimService(gw, testLogger())

	result, err := svc.Activate(context.Background(), "8988307000000000000")
	require.NoError(t, err)
	assert.Equal(t, []string{"fleet", "warehouse"}, gw.findCalls)
	assert.Equal(t, []string{"warehouse"}, gw.statusCalls)
	assert.True(t, result.Activated)
	assert.Equal(t, "warehouse", result.Instance)
}

func TestActivateStopsAtFirstHoldingInstance(t *testing.T) {
	gw := &fakeSimAPI{
		instances: twoInstances(),
		sims: map[string]*gateway.SimRecord{
			"fleet":     {Sid: "SIM-F", Status: "new"},
			"warehouse": {Sid: "SIM-W", Status: "new"},
		},
	}
	svc := NewSimService(gw, testLogger())

	result, err := svc.Activate(context.Background(), "8988307000000000000")
	require.NoError(t, err)
	assert.Equal(t, []string{"fleet"}, gw.findCalls)
	assert.Equal(t, []string{"fleet"}, gw.statusCalls)
	assert.Equal(t, "SIM-F", result.Sid)
}

func TestActivateAlreadyActiveStillWrites(t *testing.T) {
	gw := &fakeSimAPI{
		instances: twoInstances(),
		sims: map[string]*gateway.SimRecord{
			"fleet": {Sid: "SIM1", Status: "active"},
		},
	}
	svc := NewSimService(gw, testLogger())

	result, err := svc.Activate(context.Background(), "8988307000000000000")
	require.NoError(t, err)
	assert.Equal(t, []string{"fleet"}, gw.statusCalls)
	assert.True(t, result.Activated)
	assert.Equal(t, "active", result.Status)
}

func TestActivateSkipsFailingInstance(t *testing.T) {
	gw := &fakeSimAPI{
		instances: twoInstances(),
		findErr:   map[string]error{"fleet": &gateway.Error{Status: 500, Body: "down"}},
		sims: map[string]*gateway.SimRecord{
			"warehouse": {Sid: "SIM1", Status: "inactive"},
		},
	}
	svc := NewSimService(gw, testLogger())

	result, err := svc.Activate(context.Background(), "8988307000000000000")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", result.Instance)
}

func TestActivateNotFoundAnywhere(t *testing.T) {
	gw := &fakeSimAPI{instances: twoInstances()}
	svc := NewSimService(gw, testLogger())

	_, err := svc.Activate(context.Background(), "8901260000000000000")
	assert.ErrorIs(t, err, ErrSimNotFound)
	assert.Equal(t, []string{"fleet", "warehouse"}, gw.findCalls)
}

func TestLookupDoesNotMutate(t *testing.T) {
	gw := &fakeSimAPI{
		instances: twoInstances(),
		sims: map[string]*gateway.SimRecord{
			"fleet": {Sid: "SIM1", Status: "inactive"},
		},
	}
	svc := NewSimService(gw, testLogger())

	result, err := svc.Lookup(context.Background(), "8988307000000000000")
	require.NoError(t, err)
	assert.Empty(t, gw.statusCalls)
	assert.False(t, result.Activated)
	assert.Equal(t, "inactive", result.Status)
}
