package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaxtrack/vaccination-scheduling/internal/appointment"
	"github.com/vaxtrack/vaccination-scheduling/internal/booking"
	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
	"github.com/vaxtrack/vaccination-scheduling/internal/eligibility"
	"github.com/vaxtrack/vaccination-scheduling/internal/ledger"
	"github.com/vaxtrack/vaccination-scheduling/internal/matcher"
)

// The eligibility endpoint evaluates against the wall clock, so the
// fixture dates are anchored to it rather than a fixed instant.
var (
	fixedNow = time.Now().UTC()
	slotDate = fixedNow.AddDate(0, 0, 4).Format("2006-01-02")
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := catalog.NewMemoryRepository()
	repo.AddVaccine(catalog.Vaccine{
		ID: "covid19", Name: "COVID-19 Vaccine",
		TotalDoses: 2, MinIntervalDays: 21, BoosterEligible: true,
	})
	repo.AddCenter(catalog.Center{
		ID: "C1", Name: "City General Hospital", City: "Mumbai", State: "Maharashtra",
		Pincode: "400001", Latitude: 18.9702, Longitude: 72.8311,
	})
	repo.SetStock("C1", "covid19", 10, 0)

	led := ledger.NewMemoryLedger()
	ctx := context.Background()
	key := ledger.SlotKey{CenterID: "C1", Date: slotDate, TimeRange: "09:00-09:30"}
	require.NoError(t, led.SetSlotCapacity(ctx, key, 1))
	require.NoError(t, led.SetStockTotal(ctx, "C1", "covid19", 10))

	engine := eligibility.NewEngine(180)
	appts := appointment.NewService(appointment.NewMemoryRepository(), led, repo, 14).
		WithClock(func() time.Time { return fixedNow })
	bookings := booking.NewService(repo, led, matcher.New(repo), engine, appts, 14).
		WithClock(func() time.Time { return fixedNow })

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Booking:      bookings,
		Appointments: appts,
		Matcher:      matcher.New(repo),
		Catalog:      repo,
		Ledger:       led,
		Engine:       engine,
		Env:          "test",
		Version:      "test",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "body: %s", raw)
	return v
}

// bookThrough drives a patient through the whole wizard and returns the
// committed workflow.
func bookThrough(t *testing.T, srv *httptest.Server, patientID uuid.UUID) WorkflowResponse {
	t.Helper()

	resp, raw := do(t, "POST", srv.URL+"/bookings", map[string]any{
		"patient_id": patientID.String(),
		"latitude":   18.97,
		"longitude":  72.83,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", raw)
	wf := decode[WorkflowResponse](t, raw)

	base := srv.URL + "/bookings/" + wf.ID.String()

	resp, raw = do(t, "POST", base+"/vaccine", map[string]any{"vaccine_id": "covid19"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	resp, raw = do(t, "POST", base+"/center", map[string]any{"center_id": "C1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	resp, raw = do(t, "POST", base+"/slot", map[string]any{"date": slotDate, "time_range": "09:00-09:30"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	resp, raw = do(t, "POST", base+"/confirm", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", raw)
	return decode[WorkflowResponse](t, raw)
}

func TestBookingFlow_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	patientID := uuid.New()

	wf := bookThrough(t, srv, patientID)

	assert.Equal(t, "committed", wf.State)
	require.NotNil(t, wf.Appointment)
	assert.Equal(t, "upcoming", wf.Appointment.Status)
	assert.Equal(t, 1, wf.Appointment.DoseNumber)

	resp, raw := do(t, "GET", srv.URL+"/patients/"+patientID.String()+"/appointments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	appts := decode[[]AppointmentResponse](t, raw)
	require.Len(t, appts, 1)
	assert.Equal(t, wf.Appointment.ID, appts[0].ID)
}

func TestBookingFlow_GuardFailureIs422WithState(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "POST", srv.URL+"/bookings", map[string]any{
		"patient_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := decode[WorkflowResponse](t, raw)
	base := srv.URL + "/bookings/" + wf.ID.String()

	resp, raw = do(t, "POST", base+"/vaccine", map[string]any{"vaccine_id": "smallpox"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errResp := decode[ErrorResponse](t, raw)
	assert.Equal(t, "missing_selection", errResp.Error)
	assert.Equal(t, "choose_vaccine", errResp.State)
}

func TestBookingFlow_StepOutOfOrderIs409(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "POST", srv.URL+"/bookings", map[string]any{
		"patient_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := decode[WorkflowResponse](t, raw)

	resp, _ = do(t, "POST", srv.URL+"/bookings/"+wf.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBookingFlow_FullSlotSecondPatientGets422(t *testing.T) {
	srv := newTestServer(t)

	bookThrough(t, srv, uuid.New())

	// Capacity is 1; the next patient fails at confirm and lands back on
	// the slot step.
	resp, raw := do(t, "POST", srv.URL+"/bookings", map[string]any{
		"patient_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := decode[WorkflowResponse](t, raw)
	base := srv.URL + "/bookings/" + wf.ID.String()

	do(t, "POST", base+"/vaccine", map[string]any{"vaccine_id": "covid19"})
	do(t, "POST", base+"/center", map[string]any{"center_id": "C1"})
	do(t, "POST", base+"/slot", map[string]any{"date": slotDate, "time_range": "09:00-09:30"})

	resp, raw = do(t, "POST", base+"/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errResp := decode[ErrorResponse](t, raw)
	assert.Equal(t, "slot_unavailable", errResp.Error)
	assert.Equal(t, "choose_slot", errResp.State)
}

func TestBooking_UnknownWorkflowIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, "GET", srv.URL+"/bookings/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "GET", srv.URL+"/bookings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAppointmentCancel_ReleasesAndRejectsRepeat(t *testing.T) {
	srv := newTestServer(t)
	wf := bookThrough(t, srv, uuid.New())
	apptURL := srv.URL + "/appointments/" + wf.Appointment.ID.String()

	resp, raw := do(t, "POST", apptURL+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	appt := decode[AppointmentResponse](t, raw)
	assert.Equal(t, "cancelled", appt.Status)

	resp, raw = do(t, "POST", apptURL+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, raw).Error)

	// The freed seat can be booked again.
	wf2 := bookThrough(t, srv, uuid.New())
	assert.Equal(t, "committed", wf2.State)
}

func TestAppointmentComplete_AdvancesEligibility(t *testing.T) {
	srv := newTestServer(t)
	patientID := uuid.New()
	wf := bookThrough(t, srv, patientID)

	resp, _ := do(t, "POST", srv.URL+"/appointments/"+wf.Appointment.ID.String()+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := do(t, "GET", srv.URL+"/patients/"+patientID.String()+"/eligibility?vaccine_id=covid19", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	elig := decode[EligibilityResponse](t, raw)
	assert.False(t, elig.Eligible)
	assert.Equal(t, "too_soon", elig.Reason)

	resp, raw = do(t, "GET", srv.URL+"/patients/"+patientID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[[]VaccineStatusResponse](t, raw)
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].DosesReceived)
}

func TestListCenters_FiltersAndRanks(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "GET", srv.URL+"/centers?vaccine_id=covid19&lat=18.97&lng=72.83", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	centers := decode[[]CenterResponse](t, raw)
	require.Len(t, centers, 1)
	assert.Equal(t, "C1", centers[0].ID)
	assert.Equal(t, 10, centers[0].AvailableUnits)

	resp, _ = do(t, "GET", srv.URL+"/centers?lat=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListCenterSlots(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "GET", srv.URL+"/centers/C1/slots?date="+slotDate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decode[[]SlotResponse](t, raw)
	require.Len(t, slots, 1)
	assert.Equal(t, "09:00-09:30", slots[0].TimeRange)
	assert.Equal(t, 1, slots[0].Remaining)

	resp, _ = do(t, "GET", srv.URL+"/centers/C1/slots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "GET", srv.URL+"/centers/nowhere/slots?date="+slotDate, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminSetSlotCapacity(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, "PUT", srv.URL+"/admin/centers/C1/slots", map[string]any{
		"date": slotDate, "time_range": "10:00-10:30", "capacity": 3,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := do(t, "GET", srv.URL+"/centers/C1/slots?date="+slotDate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decode[[]SlotResponse](t, raw)
	assert.Len(t, slots, 2)
}

func TestAdminSetSlotCapacity_UnderflowIs409(t *testing.T) {
	srv := newTestServer(t)
	bookThrough(t, srv, uuid.New())

	resp, raw := do(t, "PUT", srv.URL+"/admin/centers/C1/slots", map[string]any{
		"date": slotDate, "time_range": "09:00-09:30", "capacity": 0,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "would_underflow", decode[ErrorResponse](t, raw).Error)
}

func TestAdminSetStock(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := do(t, "PUT", srv.URL+"/admin/centers/C1/stock/covid19", map[string]any{"total_units": 50})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, "PUT", srv.URL+"/admin/centers/C1/stock/smallpox", map[string]any{"total_units": 50})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "PUT", srv.URL+"/admin/centers/C1/stock/covid19", map[string]any{"total_units": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthLive(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "GET", srv.URL+"/health/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ok")
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest("GET", srv.URL+"/vaccines", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "test-request-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "test-request-1", resp.Header.Get("X-Request-ID"))
}

func TestListVaccines(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := do(t, "GET", srv.URL+"/vaccines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vaccines := decode[[]VaccineResponse](t, raw)
	require.Len(t, vaccines, 1)
	assert.Equal(t, "covid19", vaccines[0].ID)
	assert.Equal(t, 2, vaccines[0].TotalDoses)
	assert.True(t, vaccines[0].BoosterEligible)
}

func TestAppointmentReschedule(t *testing.T) {
	srv := newTestServer(t)
	wf := bookThrough(t, srv, uuid.New())

	// Publish a second slot to move into.
	resp, _ := do(t, "PUT", srv.URL+"/admin/centers/C1/slots", map[string]any{
		"date": slotDate, "time_range": "11:00-11:30", "capacity": 1,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := do(t, "POST",
		fmt.Sprintf("%s/appointments/%s/reschedule", srv.URL, wf.Appointment.ID),
		map[string]any{"date": slotDate, "time_range": "11:00-11:30"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)
	replacement := decode[AppointmentResponse](t, raw)
	assert.Equal(t, "11:00-11:30", replacement.TimeRange)
	assert.Equal(t, "upcoming", replacement.Status)

	resp, raw = do(t, "GET", srv.URL+"/appointments/"+wf.Appointment.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rescheduled", decode[AppointmentResponse](t, raw).Status)
}

func TestAppointmentReschedule_OutsideHorizon(t *testing.T) {
	srv := newTestServer(t)
	wf := bookThrough(t, srv, uuid.New())

	farDate := fixedNow.AddDate(0, 0, 20).Format("2006-01-02")
	resp, _ := do(t, "PUT", srv.URL+"/admin/centers/C1/slots", map[string]any{
		"date": farDate, "time_range": "11:00-11:30", "capacity": 1,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := do(t, "POST",
		fmt.Sprintf("%s/appointments/%s/reschedule", srv.URL, wf.Appointment.ID),
		map[string]any{"date": farDate, "time_range": "11:00-11:30"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "body: %s", raw)
	assert.Equal(t, "out_of_horizon", decode[ErrorResponse](t, raw).Error)

	resp, raw = do(t, "GET", srv.URL+"/appointments/"+wf.Appointment.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upcoming", decode[AppointmentResponse](t, raw).Status)
}
