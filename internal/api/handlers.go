package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

// Booking workflow

func startBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		wf, err := svc.Start(r.Context(), patientID, req.Latitude, req.Longitude)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWorkflowResponse(wf))
	}
}

func workflowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_workflow_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func selectVaccineHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		var req SelectVaccineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		wf, err := svc.SelectVaccine(r.Context(), id, req.VaccineID)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

func selectCenterHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		var req SelectCenterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		wf, err := svc.SelectCenter(r.Context(), id, req.CenterID)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

func selectSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		var req SelectSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		wf, err := svc.SelectSlot(r.Context(), id, req.Date, req.TimeRange)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

func confirmBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		wf, err := svc.Confirm(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWorkflowResponse(wf))
	}
}

func previousStepHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		wf, err := svc.Previous(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

func abandonBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		wf, err := svc.Abandon(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		wf, err := svc.Get(id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWorkflowResponse(wf))
	}
}

// Catalog and matching

func listVaccinesHandler(catalogRepo catalog.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vaccines, err := catalogRepo.ListVaccines(r.Context())
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]VaccineResponse, 0, len(vaccines))
		for _, v := range vaccines {
			resp = append(resp, toVaccineResponse(v))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listCentersHandler(m *matcher.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := matcher.Query{
			VaccineID: r.URL.Query().Get("vaccine_id"),
			Search:    r.URL.Query().Get("q"),
		}
		if raw := r.URL.Query().Get("lat"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_latitude", "lat must be a number")
				return
			}
			q.Latitude = v
		}
		if raw := r.URL.Query().Get("lng"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_longitude", "lng must be a number")
				return
			}
			q.Longitude = v
		}

		ranked, err := m.Find(r.Context(), q)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]CenterResponse, 0, len(ranked))
		for _, rc := range ranked {
			resp = append(resp, toCenterResponse(rc))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listCenterSlotsHandler(led ledger.Ledger, catalogRepo catalog.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		centerID := chi.URLParam(r, "id")
		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
			return
		}

		if _, err := catalogRepo.GetCenter(r.Context(), centerID); err != nil {
			handleError(w, err)
			return
		}

		slots, err := led.ListSlots(r.Context(), centerID, date)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Patients

func patientID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func eligibilityHandler(appts *appointment.Service, catalogRepo catalog.Repository, engine *eligibility.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := patientID(w, r)
		if !ok {
			return
		}

		vaccineID := r.URL.Query().Get("vaccine_id")
		if vaccineID == "" {
			writeError(w, http.StatusBadRequest, "missing_vaccine_id", "vaccine_id query parameter is required")
			return
		}

		vaccine, err := catalogRepo.GetVaccine(r.Context(), vaccineID)
		if err != nil {
			handleError(w, err)
			return
		}

		records, err := appts.Records(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		decision := engine.NextDose(records, *vaccine, time.Now())
		writeJSON(w, http.StatusOK, toEligibilityResponse(decision))
	}
}

func patientAppointmentsHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := patientID(w, r)
		if !ok {
			return
		}

		list, err := appts.ListByPatient(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func patientStatusHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := patientID(w, r)
		if !ok {
			return
		}

		statuses, err := appts.VaccinationStatus(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := make([]VaccineStatusResponse, 0, len(statuses))
		for _, st := range statuses {
			resp = append(resp, VaccineStatusResponse{
				VaccineID:     st.VaccineID,
				VaccineName:   st.VaccineName,
				TotalDoses:    st.TotalDoses,
				DosesReceived: st.DosesReceived,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Appointment lifecycle

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func getAppointmentHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := appts.Get(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := appts.Cancel(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := appts.Complete(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(appts *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Date == "" || req.TimeRange == "" {
			writeError(w, http.StatusBadRequest, "missing_slot", "date and time_range are required")
			return
		}

		appt, err := appts.Reschedule(r.Context(), id, req.Date, req.TimeRange)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// Admin

func setStockHandler(led ledger.Ledger, catalogRepo catalog.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		centerID := chi.URLParam(r, "id")
		vaccineID := chi.URLParam(r, "vaccineID")

		var req SetStockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.TotalUnits < 0 {
			writeError(w, http.StatusBadRequest, "invalid_total_units", "total_units must not be negative")
			return
		}

		if _, err := catalogRepo.GetCenter(r.Context(), centerID); err != nil {
			handleError(w, err)
			return
		}
		if _, err := catalogRepo.GetVaccine(r.Context(), vaccineID); err != nil {
			handleError(w, err)
			return
		}

		if err := led.SetStockTotal(r.Context(), centerID, vaccineID, req.TotalUnits); err != nil {
			handleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func setSlotCapacityHandler(led ledger.Ledger, catalogRepo catalog.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		centerID := chi.URLParam(r, "id")

		var req SetSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Date == "" || req.TimeRange == "" {
			writeError(w, http.StatusBadRequest, "missing_slot", "date and time_range are required")
			return
		}
		if req.Capacity < 0 {
			writeError(w, http.StatusBadRequest, "invalid_capacity", "capacity must not be negative")
			return
		}

		if _, err := catalogRepo.GetCenter(r.Context(), centerID); err != nil {
			handleError(w, err)
			return
		}

		key := ledger.SlotKey{CenterID: centerID, Date: req.Date, TimeRange: req.TimeRange}
		if err := led.SetSlotCapacity(r.Context(), key, req.Capacity); err != nil {
			handleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
