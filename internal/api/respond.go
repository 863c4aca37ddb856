package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps domain sentinels and guard failures onto HTTP statuses
// with stable machine-readable codes. Guard failures carry the workflow
// state the caller should redisplay.
func handleError(w http.ResponseWriter, err error) {
	var guard *booking.GuardError
	if errors.As(err, &guard) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   string(guard.Reason),
			Details: guard.Detail,
			State:   string(guard.State),
		})
		return
	}

	switch {
	case errors.Is(err, booking.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "workflow_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_workflow_state", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrOutOfHorizon):
		writeError(w, http.StatusUnprocessableEntity, "out_of_horizon", err.Error())
	case errors.Is(err, catalog.ErrVaccineNotFound):
		writeError(w, http.StatusNotFound, "vaccine_not_found", err.Error())
	case errors.Is(err, catalog.ErrCenterNotFound):
		writeError(w, http.StatusNotFound, "center_not_found", err.Error())
	case errors.Is(err, ledger.ErrUnknownSlot):
		writeError(w, http.StatusNotFound, "unknown_slot", err.Error())
	case errors.Is(err, ledger.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, ledger.ErrStockExhausted):
		writeError(w, http.StatusConflict, "stock_exhausted", err.Error())
	case errors.Is(err, ledger.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_being_reserved", "slot is currently being reserved, please retry shortly")
	case errors.Is(err, ledger.ErrWouldUnderflow):
		writeError(w, http.StatusConflict, "would_underflow", err.Error())
	case errors.Is(err, ledger.ErrAlreadyReleased):
		writeError(w, http.StatusConflict, "already_released", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
