// services/install/internal/core/workflow.go
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Workflow states.
const (
	StateReceived           = "received"
	StateDuplicateChecked   = "duplicate_checked"
	StateGroupResolved      = "group_resolved"
	StateVehicleCreated     = "vehicle_created"
	StateSegmentConfigured  = "segment_configured"
	StateSimProcessed       = "sim_processed"
	StateSecondaryProcessed = "secondary_processed"
	StateCompleted          = "completed"
	StateFailed             = "failed"
)

// Workflow events.
const (
	eventCheckDuplicate   = "check_duplicate"
	eventResolveGroup     = "resolve_group"
	eventCreateVehicle    = "create_vehicle"
	eventConfigureSegment = "configure_segment"
	eventProcessSim       = "process_sim"
	eventProcessSecondary = "process_secondary"
	eventComplete         = "complete"
	eventFail             = "fail"
)

type vehicleAPI interface {
	CreateVehicle(ctx context.Context, name, vin, imei string, groupID int) (int, error)
}

// ActivityRecorder receives step failures for session accounting. Recording
// never influences the workflow outcome.
type ActivityRecorder interface {
	LogStepError(sessionID, step, message string)
}

// EventPublisher emits installation lifecycle events to interested systems.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload interface{}) error
}

// WorkflowService runs the installation workflow: a fixed forward-only
// sequence of gateway mutations with no compensation. Completed steps stay
// completed when a later step fails; the individually idempotent steps make
// a retried request converge instead of double-applying.
type WorkflowService struct {
	guard    *GuardService
	resolver *ResolverService
	sims     *SimService
	segments *SegmentService
	vehicles vehicleAPI

	activity ActivityRecorder
	events   EventPublisher
	logger   *logrus.Logger
}

// NewWorkflowService creates a new workflow service. activity and events may
// be nil when the corresponding backends are not configured.
func NewWorkflowService(
	guard *GuardService,
	resolver *ResolverService,
	sims *SimService,
	segments *SegmentService,
	vehicles vehicleAPI,
	activity ActivityRecorder,
	events EventPublisher,
	logger *logrus.Logger,
) *WorkflowService {
	return &WorkflowService{
		guard:    guard,
		resolver: resolver,
		sims:     sims,
		segments: segments,
		vehicles: vehicles,
		activity: activity,
		events:   events,
		logger:   logger,
	}
}

// workflowRun is the per-request state machine plus the details it
// accumulates.
type workflowRun struct {
	machine *fsm.FSM
	req     *InstallationRequest
	details *InstallDetails
	svc     *WorkflowService
	log     *logrus.Entry
}

func (s *WorkflowService) newRun(req *InstallationRequest, secondary bool) *workflowRun {
	run := &workflowRun{
		req: req,
		details: &InstallDetails{
			InstallationID: req.InstallationID,
			ClientName:     NormalizeClientName(req.ClientName),
			VIN:            req.VIN,
			Secondary:      secondary,
		},
		svc: s,
		log: s.logger.WithFields(logrus.Fields{
			"installation_id": req.InstallationID,
			"vin":             req.VIN,
			"secondary":       secondary,
		}),
	}

	run.machine = fsm.NewFSM(
		StateReceived,
		fsm.Events{
			{Name: eventCheckDuplicate, Src: []string{StateReceived}, Dst: StateDuplicateChecked},
			{Name: eventResolveGroup, Src: []string{StateDuplicateChecked}, Dst: StateGroupResolved},
			{Name: eventCreateVehicle, Src: []string{StateGroupResolved}, Dst: StateVehicleCreated},
			{Name: eventConfigureSegment, Src: []string{StateVehicleCreated}, Dst: StateSegmentConfigured},
			{Name: eventProcessSim, Src: []string{StateSegmentConfigured, StateGroupResolved}, Dst: StateSimProcessed},
			{Name: eventProcessSecondary, Src: []string{StateSimProcessed}, Dst: StateSecondaryProcessed},
			{Name: eventComplete, Src: []string{StateSecondaryProcessed}, Dst: StateCompleted},
			{Name: eventFail, Src: []string{
				StateReceived, StateDuplicateChecked, StateGroupResolved, StateVehicleCreated,
				StateSegmentConfigured, StateSimProcessed, StateSecondaryProcessed,
			}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				run.log.WithFields(logrus.Fields{
					"from": e.Src, "to": e.Dst,
				}).Debug("Workflow transition")
			},
		},
	)
	return run
}

// advance moves the machine forward; on a step error it transitions to
// failed, records the failure and returns the original error.
func (r *workflowRun) advance(ctx context.Context, event, step string, stepErr error) error {
	if stepErr != nil {
		_ = r.machine.Event(ctx, eventFail)
		r.log.WithError(stepErr).WithField("step", step).Error("Workflow step failed")
		if r.svc.activity != nil && r.req.SessionID != "" {
			r.svc.activity.LogStepError(r.req.SessionID, step, stepErr.Error())
		}
		r.svc.publish(ctx, "installation.failed", map[string]interface{}{
			"installationId": r.req.InstallationID,
			"step":           step,
			"error":          stepErr.Error(),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
		return stepErr
	}
	return r.machine.Event(ctx, event)
}

// Run executes the primary installation workflow.
func (s *WorkflowService) Run(ctx context.Context, req *InstallationRequest) (*InstallDetails, error) {
	req.Normalize()
	run := s.newRun(req, false)
	run.log.Info("Starting installation workflow")

	// Duplicate guard.
	if s.guard.IsDuplicate(ctx, req.InstallationID) {
		return nil, ErrDuplicateInstallation
	}
	if err := run.advance(ctx, eventCheckDuplicate, "deviceSetup", nil); err != nil {
		return nil, err
	}

	// Bookkeeping, never fatal.
	s.recordInstallation(ctx, req)

	// Client group.
	groupID, created, err := s.resolver.ResolveGroup(ctx, req.ClientName)
	if err := run.advance(ctx, eventResolveGroup, "clientSelection", err); err != nil {
		return nil, err
	}
	run.details.GroupID = groupID
	run.details.GroupCreated = created

	s.clearWorksheet(ctx, req)

	// Vehicle, named after the VIN.
	vehicleID, err := s.vehicles.CreateVehicle(ctx, req.VIN, req.VIN, req.PrimaryIMEI, groupID)
	if err := run.advance(ctx, eventCreateVehicle, "vinSelection", err); err != nil {
		return nil, err
	}
	run.details.VehicleID = vehicleID
	run.details.VehicleName = req.VIN

	// Work-hours segment on the primary device.
	segResult, err := s.segments.Ensure(ctx, req.PrimaryIMEI)
	if err := run.advance(ctx, eventConfigureSegment, "deviceSetup", err); err != nil {
		return nil, err
	}
	run.details.HosConfiguration.Primary = segResult.Message

	// Optional SIM.
	if req.SimICCID != "" {
		simResult, err := s.sims.Activate(ctx, req.SimICCID)
		if err := run.advance(ctx, eventProcessSim, "deviceSetup", err); err != nil {
			return nil, err
		}
		run.details.SimProcessed = true
		run.details.SimStatus = simResult.Status
		run.details.SimInstance = simResult.Instance
	} else {
		if err := run.advance(ctx, eventProcessSim, "deviceSetup", nil); err != nil {
			return nil, err
		}
	}

	// Optional secondary device: its own SIM, group and vehicle, then the
	// segment for the second IMEI.
	if req.SecondaryIMEI != "" {
		err := s.processSecondary(ctx, run)
		if err := run.advance(ctx, eventProcessSecondary, "deviceSetup", err); err != nil {
			return nil, err
		}
	} else {
		if err := run.advance(ctx, eventProcessSecondary, "deviceSetup", nil); err != nil {
			return nil, err
		}
	}

	if err := run.advance(ctx, eventComplete, "finalConfirmation", nil); err != nil {
		return nil, err
	}

	run.log.Info("Installation workflow completed")
	s.publish(ctx, "installation.completed", run.details)
	return run.details, nil
}

// RunSecondary executes the standalone secondary-device workflow: same guard
// and group resolution, then the secondary sub-flow (SIM, vehicle, segment)
// for the second device only.
func (s *WorkflowService) RunSecondary(ctx context.Context, req *InstallationRequest) (*InstallDetails, error) {
	req.Normalize()
	run := s.newRun(req, true)
	run.log.Info("Starting secondary installation workflow")

	if s.guard.IsDuplicate(ctx, req.InstallationID) {
		return nil, ErrDuplicateInstallation
	}
	if err := run.advance(ctx, eventCheckDuplicate, "deviceSetup", nil); err != nil {
		return nil, err
	}

	s.recordInstallation(ctx, req)

	groupID, created, err := s.resolver.ResolveGroup(ctx, req.ClientName)
	if err := run.advance(ctx, eventResolveGroup, "clientSelection", err); err != nil {
		return nil, err
	}
	run.details.GroupID = groupID
	run.details.GroupCreated = created

	if err := run.advance(ctx, eventProcessSim, "deviceSetup", nil); err != nil {
		return nil, err
	}

	err = s.processSecondary(ctx, run)
	if err := run.advance(ctx, eventProcessSecondary, "deviceSetup", err); err != nil {
		return nil, err
	}

	if err := run.advance(ctx, eventComplete, "finalConfirmation", nil); err != nil {
		return nil, err
	}

	run.log.Info("Secondary installation workflow completed")
	s.publish(ctx, "installation.completed", run.details)
	return run.details, nil
}

// processSecondary runs the secondary-device sub-flow: activates the
// secondary SIM when supplied, resolves the "{client} (2)" group, creates
// the "{vin} (2)" vehicle bound to the secondary IMEI and ensures its
// segment.
func (s *WorkflowService) processSecondary(ctx context.Context, run *workflowRun) error {
	if run.req.SecondaryICCID != "" {
		simResult, err := s.sims.Activate(ctx, run.req.SecondaryICCID)
		if err != nil {
			return fmt.Errorf("secondary sim: %w", err)
		}
		run.details.SecondarySimProcessed = true
		run.details.SecondarySimStatus = simResult.Status
		run.details.SecondarySimInstance = simResult.Instance
	}

	clientName := NormalizeClientName(run.req.ClientName)
	groupID, _, err := s.resolver.ResolveGroup(ctx, SecondaryGroupName(clientName))
	if err != nil {
		return fmt.Errorf("secondary group: %w", err)
	}

	vehicleName := run.req.VIN + " (2)"
	vehicleID, err := s.vehicles.CreateVehicle(ctx, vehicleName, run.req.VIN, run.req.SecondaryIMEI, groupID)
	if err != nil {
		return fmt.Errorf("secondary vehicle: %w", err)
	}

	segResult, err := s.segments.Ensure(ctx, run.req.SecondaryIMEI)
	if err != nil {
		return fmt.Errorf("secondary segment: %w", err)
	}

	run.details.SecondaryDeviceProcessed = true
	run.details.HosConfiguration.Secondary = segResult.Message
	if run.details.Secondary {
		run.details.VehicleID = vehicleID
		run.details.VehicleName = vehicleName
	}
	run.log.WithFields(logrus.Fields{
		"secondary_vehicle_id": vehicleID,
		"secondary_group_id":   groupID,
	}).Info("Secondary device processed")
	return nil
}

// recordInstallation notes the installation attempt for repeat accounting.
// Emitted as an event so downstream bookkeeping stays out of the hot path;
// failures are logged and swallowed.
func (s *WorkflowService) recordInstallation(ctx context.Context, req *InstallationRequest) {
	s.publish(ctx, "installation.recorded", map[string]interface{}{
		"installationId": req.InstallationID,
		"clientName":     NormalizeClientName(req.ClientName),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// clearWorksheet clears the legacy mass-command worksheet. The sheet only
// exists in the legacy tooling, so this emits the clear request as an event
// for that system to act on.
func (s *WorkflowService) clearWorksheet(ctx context.Context, req *InstallationRequest) {
	s.publish(ctx, "worksheet.clear", map[string]interface{}{
		"installationId": req.InstallationID,
		"rows":           "2-50",
	})
}

func (s *WorkflowService) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, payload); err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).
			Warn("Failed to publish lifecycle event")
	}
}
