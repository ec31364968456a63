// services/install/internal/core/models.go
package core

import "strings"

// InstallationRequest carries the fields an installer submits to run the
// workflow. Secondary device fields drive the secondary sub-flow, whether it
// runs inside the primary workflow or standalone.
type InstallationRequest struct {
	InstallationID string `json:"installationId" binding:"required"`
	ClientName     string `json:"clientName" binding:"required"`
	VIN            string `json:"vin" binding:"required"`
	PrimaryIMEI    string `json:"primaryImei" binding:"required"`
	SimICCID       string `json:"simIccid"`
	SecondaryIMEI  string `json:"secondaryImei"`
	SecondaryICCID string `json:"secondarySimIccid"`
	SessionID      string `json:"-"`
	Installer      string `json:"-"`
}

// Normalize trims surrounding whitespace from every submitted field.
func (r *InstallationRequest) Normalize() {
	r.InstallationID = strings.TrimSpace(r.InstallationID)
	r.ClientName = strings.TrimSpace(r.ClientName)
	r.VIN = strings.TrimSpace(r.VIN)
	r.PrimaryIMEI = strings.TrimSpace(r.PrimaryIMEI)
	r.SimICCID = strings.TrimSpace(r.SimICCID)
	r.SecondaryIMEI = strings.TrimSpace(r.SecondaryIMEI)
	r.SecondaryICCID = strings.TrimSpace(r.SecondaryICCID)
}

// InstallDetails aggregates what the workflow did, step by step, for the
// response body and for lifecycle events. The processed flags distinguish a
// step that ran from one skipped because its input was absent.
type InstallDetails struct {
	InstallationID           string           `json:"installationId"`
	ClientName               string           `json:"clientName"`
	VIN                      string           `json:"vin"`
	GroupID                  int              `json:"groupId,omitempty"`
	GroupCreated             bool             `json:"groupCreated"`
	VehicleID                int              `json:"vehicleId,omitempty"`
	VehicleName              string           `json:"vehicleName,omitempty"`
	SimProcessed             bool             `json:"simProcessed"`
	SimStatus                string           `json:"simStatus,omitempty"`
	SimInstance              string           `json:"simInstance,omitempty"`
	SecondaryDeviceProcessed bool             `json:"secondaryDeviceProcessed"`
	SecondarySimProcessed    bool             `json:"secondarySimProcessed"`
	SecondarySimStatus       string           `json:"secondarySimStatus,omitempty"`
	SecondarySimInstance     string           `json:"secondarySimInstance,omitempty"`
	HosConfiguration         HosConfiguration `json:"hosConfiguration"`
	Secondary                bool             `json:"secondary"`
}

// HosConfiguration carries the work-hours segment outcome per device.
type HosConfiguration struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// SimResult describes the outcome of SIM activation.
type SimResult struct {
	Activated bool   `json:"activated"`
	Status    string `json:"status"`
	Instance  string `json:"instance,omitempty"`
	Family    string `json:"family,omitempty"`
	Sid       string `json:"sid,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SegmentResult describes the outcome of safety-segment configuration.
// Configured reports whether a setup call was actually issued; a device that
// already carried the segment comes back false with an explanatory message.
type SegmentResult struct {
	Configured bool   `json:"configured"`
	Message    string `json:"message"`
}
