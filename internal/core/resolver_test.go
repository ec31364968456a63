package core

import (
	"context"
	"io"
	"testing"

	"example.com/backstage/services/install/internal/gateway"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeGroupAPI struct {
	searchResults []int
	searchErr     error
	searchCalls   int
	createID      int
	createErr     error
	createCalls   int
}

func (f *fakeGroupAPI) SearchGroupByName(_ context.Context, _ string) (int, error) {
	idx := f.searchCalls
	f.searchCalls++
	if f.searchErr != nil {
		return 0, f.searchErr
	}
	if idx < len(f.searchResults) {
		return f.searchResults[idx], nil
	}
	return 0, nil
}

func (f *fakeGroupAPI) CreateGroup(_ context.Context, _ string) (int, error) {
	f.createCalls++
	return f.createID, f.createErr
}

func TestNormalizeClientName(t *testing.T) {
	cases := map[string]string{
		"Acme Transport":        "Acme Transport",
		"Acme Transport NA":     "Acme Transport",
		"Acme Transport NA/":    "Acme Transport",
		"Acme Transport NA / ":  "Acme Transport",
		"Acme Transport na":     "Acme Transport",
		"  Acme Transport  ":    "Acme Transport",
		"Nacional de Autobuses": "Nacional de Autobuses",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeClientName(input), "input %q", input)
	}
}

func TestSecondaryGroupName(t *testing.T) {
	assert.Equal(t, "Acme (2)", SecondaryGroupName("Acme"))
}

func TestResolveGroupFindsExisting(t *testing.T) {
	gw := &fakeGroupAPI{searchResults: []int{7}}
	svc := NewResolverService(gw, testLogger())

	id, created, err := svc.ResolveGroup(context.Background(), "Acme NA")
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.False(t, created)
	assert.Zero(t, gw.createCalls)
}

func TestResolveGroupCreatesWhenMissing(t *testing.T) {
	gw := &fakeGroupAPI{createID: 9}
	svc := NewResolverService(gw, testLogger())

	id, created, err := svc.ResolveGroup(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, 9, id)
	assert.True(t, created)
	assert.Equal(t, 1, gw.createCalls)
}

func TestResolveGroupNameConflictTriggersSingleResearch(t *testing.T) {
	gw := &fakeGroupAPI{
		searchResults: []int{0, 11},
		createErr:     &gateway.Error{Status: 409, Body: "name already exists"},
	}
	svc := NewResolverService(gw, testLogger())

	id, created, err := svc.ResolveGroup(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, 11, id)
	assert.False(t, created)
	assert.Equal(t, 2, gw.searchCalls)
	assert.Equal(t, 1, gw.createCalls)
}

func TestResolveGroupNameConflictWithoutMatchFails(t *testing.T) {
	gw := &fakeGroupAPI{
		createErr: &gateway.Error{Status: 409, Body: "name already exists"},
	}
	svc := NewResolverService(gw, testLogger())

	_, _, err := svc.ResolveGroup(context.Background(), "Acme")
	assert.ErrorIs(t, err, ErrGroupNotResolved)
	assert.Equal(t, 2, gw.searchCalls)
	assert.Equal(t, 1, gw.createCalls)
}

func TestResolveGroupEmptyNameRejected(t *testing.T) {
	svc := NewResolverService(&fakeGroupAPI{}, testLogger())
	_, _, err := svc.ResolveGroup(context.Background(), "  NA ")
	var bizErr BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "VALIDATION_CLIENT_NAME", bizErr.Code)
}
