package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "handoff/pkg/domain"
	"handoff/pkg/testutil"

	"handoff/internal/events"
	"handoff/internal/exchange/service"
	"handoff/internal/exchange/store"
	jwttoken "handoff/internal/jwt_token"
	"handoff/internal/qrconfirm"
)

type testEnv struct {
	router    chi.Router
	jwt       *jwttoken.JWTService
	fromParty id.PartyID
	toParty   id.PartyID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st := store.NewInMemoryStore()
	rec := events.NewRecorder()
	exchanges := service.NewService(st, rec, nil, logger, nil, 72*time.Hour)
	qr := qrconfirm.NewService(st, qrconfirm.NewInMemoryTokenStore(), rec, logger, nil)
	jwtSvc := jwttoken.NewJWTService("test-signing-key", "handoff", "handoff-parties")

	router := chi.NewRouter()
	New(exchanges, qr, jwtSvc, logger).Register(router)

	return &testEnv{
		router:    router,
		jwt:       jwtSvc,
		fromParty: id.NewPartyID(),
		toParty:   id.NewPartyID(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, party *id.PartyID) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if party != nil {
		token, err := e.jwt.GeneratePartyToken(*party, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createInstance(t *testing.T) InstanceResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/exchanges", CreateExchangeRequest{
		DefinitionID:        id.NewDefinitionID().String(),
		FromParty:           e.fromParty.String(),
		ToParty:             e.toParty.String(),
		ScheduledTime:       time.Now().UTC(),
		WindowBeforeMinutes: 15,
		WindowAfterMinutes:  15,
		Geofence:            GeofenceRequest{CenterLat: 34.1365, CenterLng: -118.2945, RadiusM: 100},
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp InstanceResponse
	testutil.DecodeJSON(t, rr, &resp)
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	testutil.DecodeJSON(t, rr, &body)
	return body.Error
}

func TestCreateAndGetInstance(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	assert.Equal(t, "scheduled", created.State)
	assert.Equal(t, e.fromParty.String(), created.FromParty)
	assert.Equal(t, 30*time.Minute, created.WindowEnd.Sub(created.WindowStart))

	rr := e.do(t, http.MethodGet, "/exchanges/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got InstanceResponse
	testutil.DecodeJSON(t, rr, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Nil(t, got.FromCheckIn)
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/exchanges", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rr))
}

func TestCreateRejectsBadPartyID(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodPost, "/exchanges", CreateExchangeRequest{
		DefinitionID:  id.NewDefinitionID().String(),
		FromParty:     "not-a-uuid",
		ToParty:       e.toParty.String(),
		ScheduledTime: time.Now().UTC(),
		Geofence:      GeofenceRequest{CenterLat: 34.1365, CenterLng: -118.2945, RadiusM: 100},
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rr))
}

func TestGetUnknownInstance(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/exchanges/"+id.NewInstanceID().String(), nil, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "instance_not_found", decodeError(t, rr))
}

func TestCheckInRequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/check-in", created.ID), CheckInRequest{
		Role: "from", Lat: 34.1365, Lng: -118.2945,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCheckInFlowCompletes(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)
	path := fmt.Sprintf("/exchanges/%s/check-in", created.ID)

	rr := e.do(t, http.MethodPost, path, CheckInRequest{
		Role: "from", Lat: 34.13675, Lng: -118.2945, DeviceAccuracyM: 10,
		ClaimedAt: time.Now().UTC(),
	}, &e.fromParty)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var first SubmitCheckInResponse
	testutil.DecodeJSON(t, rr, &first)
	assert.True(t, first.WithinGeofence)
	assert.False(t, first.Finalized)
	assert.Equal(t, "partially_checked_in", first.State)

	rr = e.do(t, http.MethodPost, path, CheckInRequest{
		Role: "to", Lat: 34.1365, Lng: -118.2945, DeviceAccuracyM: 5,
		ClaimedAt: time.Now().UTC(),
	}, &e.toParty)
	require.Equal(t, http.StatusOK, rr.Code)

	var second SubmitCheckInResponse
	testutil.DecodeJSON(t, rr, &second)
	assert.True(t, second.Finalized)
	assert.Equal(t, "completed", second.Outcome)

	rr = e.do(t, http.MethodPost, path, CheckInRequest{
		Role: "from", Lat: 34.1365, Lng: -118.2945,
	}, &e.fromParty)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "instance_finalized", decodeError(t, rr))
}

func TestCheckInRejectsBadRole(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/check-in", created.ID), CheckInRequest{
		Role: "sender", Lat: 34.1365, Lng: -118.2945,
	}, &e.fromParty)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rr))
}

func TestCheckInRejectsBadCoordinates(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/check-in", created.ID), CheckInRequest{
		Role: "from", Lat: 91, Lng: 0,
	}, &e.fromParty)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_coordinates", decodeError(t, rr))
}

func TestDisputeRecordsFiler(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/dispute", created.ID), DisputeRequest{
		Notes: "exchange never happened",
	}, &e.toParty)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got InstanceResponse
	testutil.DecodeJSON(t, rr, &got)
	assert.Equal(t, "disputed", got.State)
	assert.Equal(t, "disputed", got.Outcome)
	require.NotNil(t, got.Dispute)
	assert.Equal(t, e.toParty.String(), got.Dispute.FiledBy)
}

func TestQRTokenRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/qr-token", created.ID), nil, &e.fromParty)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var tok QRTokenResponse
	testutil.DecodeJSON(t, rr, &tok)
	assert.NotEmpty(t, tok.Token)

	rr = e.do(t, http.MethodPost, "/exchanges/qr-confirm", QRConfirmRequest{Token: tok.Token}, &e.toParty)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got InstanceResponse
	testutil.DecodeJSON(t, rr, &got)
	assert.True(t, got.QRConfirmed)

	rr = e.do(t, http.MethodPost, "/exchanges/qr-confirm", QRConfirmRequest{Token: tok.Token}, &e.fromParty)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "token_already_used", decodeError(t, rr))
}

func TestQRConfirmUnknownToken(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/exchanges/qr-confirm", QRConfirmRequest{Token: "bogus"}, &e.fromParty)
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, "token_expired", decodeError(t, rr))
}

func TestMapSpecEndpoint(t *testing.T) {
	e := newTestEnv(t)
	created := e.createInstance(t)

	rr := e.do(t, http.MethodPost, fmt.Sprintf("/exchanges/%s/check-in", created.ID), CheckInRequest{
		Role: "from", Lat: 34.13675, Lng: -118.2945, DeviceAccuracyM: 10,
		ClaimedAt: time.Now().UTC(),
	}, &e.fromParty)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodGet, fmt.Sprintf("/exchanges/%s/map-spec", created.ID), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, `"radius_m":100`)
	assert.Contains(t, body, `"role":"from"`)
	assert.NotContains(t, body, `"role":"to"`)
}
