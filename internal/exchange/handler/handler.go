// Package handler exposes the exchange engine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
	"handoff/pkg/platform/httputil"
	"handoff/pkg/platform/middleware/auth"
	"handoff/pkg/requestcontext"

	"handoff/internal/evidence/mapspec"
	"handoff/internal/exchange/models"
	"handoff/internal/exchange/service"
	"handoff/internal/qrconfirm"
)

// ExchangeService is the exchange-instance application surface.
type ExchangeService interface {
	CreateInstance(ctx context.Context, p service.CreateParams) (*models.ExchangeInstance, error)
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error)
	SubmitCheckIn(ctx context.Context, p service.CheckInParams) (*service.CheckInResult, error)
	FileDispute(ctx context.Context, instanceID id.InstanceID, filedBy id.PartyID, notes string) (*models.ExchangeInstance, error)
}

// QRService issues and redeems QR confirmation tokens.
type QRService interface {
	GenerateToken(ctx context.Context, instanceID id.InstanceID) (*qrconfirm.Token, error)
	Confirm(ctx context.Context, tokenValue string, confirmedBy id.PartyID) (*models.ExchangeInstance, error)
}

// Handler handles exchange endpoints.
type Handler struct {
	logger    *slog.Logger
	exchanges ExchangeService
	qr        QRService
	validator auth.TokenValidator
}

// New creates a Handler.
func New(exchanges ExchangeService, qr QRService, validator auth.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		exchanges: exchanges,
		qr:        qr,
		validator: validator,
	}
}

// Register mounts the exchange routes. Party-acting endpoints require a
// bearer token so evidence carries who acted; reads and creation are for
// trusted collaborators behind the gateway.
func (h *Handler) Register(r chi.Router) {
	r.Route("/exchanges", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/map-spec", h.handleMapSpec)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireParty(h.validator, h.logger))
			r.Post("/{id}/check-in", h.handleCheckIn)
			r.Post("/{id}/dispute", h.handleDispute)
			r.Post("/{id}/qr-token", h.handleQRToken)
			r.Post("/qr-confirm", h.handleQRConfirm)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateExchangeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	definitionID, err := id.ParseDefinitionID(req.DefinitionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	fromParty, err := id.ParsePartyID(req.FromParty)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	toParty, err := id.ParsePartyID(req.ToParty)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.exchanges.CreateInstance(ctx, service.CreateParams{
		DefinitionID:  definitionID,
		FromParty:     fromParty,
		ToParty:       toParty,
		ScheduledTime: req.ScheduledTime,
		WindowBefore:  time.Duration(req.WindowBeforeMinutes) * time.Minute,
		WindowAfter:   time.Duration(req.WindowAfterMinutes) * time.Minute,
		Geofence: models.Geofence{
			CenterLat: req.Geofence.CenterLat,
			CenterLng: req.Geofence.CenterLng,
			RadiusM:   req.Geofence.RadiusM,
		},
	})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create exchange instance",
			"request_id", requestID,
			"error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toInstanceResponse(inst))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.exchanges.GetInstance(r.Context(), instanceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

func (h *Handler) handleMapSpec(w http.ResponseWriter, r *http.Request) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.exchanges.GetInstance(r.Context(), instanceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	spec := mapspec.Build(inst)
	data, err := spec.CanonicalJSON()
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to render map spec"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[CheckInRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	role, err := models.ParsePartyRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.exchanges.SubmitCheckIn(ctx, service.CheckInParams{
		InstanceID:      instanceID,
		Role:            role,
		Lat:             req.Lat,
		Lng:             req.Lng,
		DeviceAccuracyM: req.DeviceAccuracyM,
		ClientClaimedAt: req.ClaimedAt,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "check-in rejected",
			"request_id", requestID,
			"instance_id", instanceID.String(),
			"error", err)
		httputil.WriteError(w, err)
		return
	}

	resp := SubmitCheckInResponse{
		DistanceM:      result.DistanceM,
		WithinGeofence: result.WithinGeofence,
		Late:           result.Late,
		Finalized:      result.Finalized,
		State:          string(result.State),
	}
	if result.Outcome != nil {
		resp.Outcome = string(*result.Outcome)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[DisputeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inst, err := h.exchanges.FileDispute(ctx, instanceID, requestcontext.PartyID(ctx), req.Notes)
	if err != nil {
		h.logger.WarnContext(ctx, "dispute rejected",
			"request_id", requestID,
			"instance_id", instanceID.String(),
			"error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

func (h *Handler) handleQRToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	token, err := h.qr.GenerateToken(ctx, instanceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, QRTokenResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

func (h *Handler) handleQRConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[QRConfirmRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inst, err := h.qr.Confirm(ctx, req.Token, requestcontext.PartyID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "qr confirmation rejected",
			"request_id", requestID,
			"error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}
