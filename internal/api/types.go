package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

type StartBookingRequest struct {
	PatientID string  `json:"patient_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type SelectVaccineRequest struct {
	VaccineID string `json:"vaccine_id"`
}

type SelectCenterRequest struct {
	CenterID string `json:"center_id"`
}

type SelectSlotRequest struct {
	Date      string `json:"date"`
	TimeRange string `json:"time_range"`
}

type RescheduleRequest struct {
	Date      string `json:"date"`
	TimeRange string `json:"time_range"`
}

type SetStockRequest struct {
	TotalUnits int `json:"total_units"`
}

type SetSlotRequest struct {
	Date      string `json:"date"`
	TimeRange string `json:"time_range"`
	Capacity  int    `json:"capacity"`
}

type WorkflowResponse struct {
	ID          uuid.UUID            `json:"id"`
	State       string               `json:"state"`
	PatientID   uuid.UUID            `json:"patient_id"`
	VaccineID   string               `json:"vaccine_id,omitempty"`
	DoseNumber  int                  `json:"dose_number,omitempty"`
	Booster     bool                 `json:"booster,omitempty"`
	CenterID    string               `json:"center_id,omitempty"`
	Date        string               `json:"date,omitempty"`
	TimeRange   string               `json:"time_range,omitempty"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	VaccineID  string    `json:"vaccine_id"`
	DoseNumber int       `json:"dose_number"`
	CenterID   string    `json:"center_id"`
	Date       string    `json:"date"`
	TimeRange  string    `json:"time_range"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type VaccineResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TotalDoses      int    `json:"total_doses"`
	MinIntervalDays int    `json:"min_interval_days"`
	BoosterEligible bool   `json:"booster_eligible"`
}

type CenterResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	City           string  `json:"city"`
	State          string  `json:"state"`
	Pincode        string  `json:"pincode"`
	DistanceKm     float64 `json:"distance_km"`
	AvailableUnits int     `json:"available_units,omitempty"`
}

type SlotResponse struct {
	TimeRange string `json:"time_range"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}

type EligibilityResponse struct {
	Eligible      bool   `json:"eligible"`
	DoseNumber    int    `json:"dose_number,omitempty"`
	Booster       bool   `json:"booster,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DaysRemaining int    `json:"days_remaining,omitempty"`
}

type VaccineStatusResponse struct {
	VaccineID     string `json:"vaccine_id"`
	VaccineName   string `json:"vaccine_name"`
	TotalDoses    int    `json:"total_doses"`
	DosesReceived int    `json:"doses_received"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
}

func toWorkflowResponse(wf *booking.Workflow) WorkflowResponse {
	resp := WorkflowResponse{
		ID:         wf.ID,
		State:      string(wf.State),
		PatientID:  wf.PatientID,
		VaccineID:  wf.VaccineID,
		DoseNumber: wf.DoseNumber,
		Booster:    wf.Booster,
		CenterID:   wf.CenterID,
		Date:       wf.Date,
		TimeRange:  wf.TimeRange,
	}
	if wf.Appointment != nil {
		r := toAppointmentResponse(wf.Appointment)
		resp.Appointment = &r
	}
	return resp
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		VaccineID:  a.VaccineID,
		DoseNumber: a.DoseNumber,
		CenterID:   a.CenterID,
		Date:       a.Date,
		TimeRange:  a.TimeRange,
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
	}
}

func toVaccineResponse(v catalog.Vaccine) VaccineResponse {
	return VaccineResponse{
		ID:              v.ID,
		Name:            v.Name,
		TotalDoses:      v.TotalDoses,
		MinIntervalDays: v.MinIntervalDays,
		BoosterEligible: v.BoosterEligible,
	}
}

func toCenterResponse(rc matcher.RankedCenter) CenterResponse {
	return CenterResponse{
		ID:             rc.ID,
		Name:           rc.Name,
		Address:        rc.Address,
		City:           rc.City,
		State:          rc.State,
		Pincode:        rc.Pincode,
		DistanceKm:     rc.DistanceKm,
		AvailableUnits: rc.AvailableUnits,
	}
}

func toSlotResponse(s ledger.Slot) SlotResponse {
	return SlotResponse{
		TimeRange: s.Key.TimeRange,
		Capacity:  s.Capacity,
		Remaining: s.Remaining(),
	}
}

func toEligibilityResponse(d eligibility.Decision) EligibilityResponse {
	return EligibilityResponse{
		Eligible:      d.Eligible,
		DoseNumber:    d.DoseNumber,
		Booster:       d.Booster,
		Reason:        string(d.Reason),
		DaysRemaining: d.DaysRemaining,
	}
}
