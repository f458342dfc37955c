package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/appointment"
)

type Handler struct {
	svc      *appointment.Service
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(svc *appointment.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	appt, err := h.svc.Book(r.Context(), actor, appointment.BookingInput{
		DoctorID: doctorID,
		Date:     req.Date,
		Time:     req.Time,
		Start:    req.StartTime,
		End:      req.EndTime,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.svc.List(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, newAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

// UpdateAppointment multiplexes PATCH: reschedule when a new time is
// given, completion for status=completed, then notes and payment
// confirmation. Operations apply in that order; the first failure wins.
func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req UpdateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	wantsReschedule := req.Date != "" || req.Time != "" || req.StartTime != nil || req.EndTime != nil
	wantsComplete := req.Status != nil && *req.Status == string(appointment.StatusCompleted)
	if !wantsReschedule && !wantsComplete && req.Notes == nil && req.PaymentConfirmed == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "no updatable fields in request")
		return
	}

	var appt *appointment.Appointment

	if wantsReschedule {
		appt, err = h.svc.Reschedule(r.Context(), actor, id, appointment.RescheduleInput{
			Date:  req.Date,
			Time:  req.Time,
			Start: req.StartTime,
			End:   req.EndTime,
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	if wantsComplete {
		appt, err = h.svc.Complete(r.Context(), actor, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	if req.Notes != nil {
		appt, err = h.svc.UpdateNotes(r.Context(), actor, id, *req.Notes)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	if req.PaymentConfirmed != nil {
		appt, err = h.svc.ConfirmPayment(r.Context(), actor, id, *req.PaymentConfirmed)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	if _, err := h.svc.Cancel(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{Success: true})
}

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.ListDoctors(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]DoctorResponse, 0, len(doctors))
	for i := range doctors {
		out = append(out, newDoctorResponse(&doctors[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}

	doctor, err := h.svc.GetDoctor(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newDoctorResponse(doctor))
}

func (h *Handler) DoctorSlots(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "date query parameter is required")
		return
	}

	slots, err := h.svc.DoctorSlots(r.Context(), id, date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: id, Date: date, Slots: slots})
}

// writeServiceError maps domain errors onto the HTTP taxonomy. Conflict
// outcomes keep distinct codes so clients can tell "pick another time"
// from a real failure.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *appointment.ValidationError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrUnauthorizedActor):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrCalendarBusy):
		writeError(w, http.StatusConflict, "calendar_busy", "another booking for this doctor is in progress, please retry")
	case errors.Is(err, appointment.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", err.Error())
	default:
		h.logger.Error("internal error",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
