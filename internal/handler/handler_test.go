package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/internal/repository"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/response"
)

func init() { gin.SetMode(gin.TestMode) }

type api struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTManager
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore(time.Second)
	notifier := application.NewNotifier(nil, nil, nil, log)
	ledger := application.NewStockLedger(store, notifier, nil, log)
	bookings := application.NewBookingService(store, application.NewValidator(), ledger, notifier, nil, log)
	directory := application.NewDirectoryService(store, notifier, log)
	intervals := application.NewIntervalService(store, notifier, log)
	availability := application.NewAvailabilityService(store, nil, log)
	jwt := auth.NewJWTManager("test-secret", time.Hour, time.Hour)

	r := gin.New()
	root := r.Group("")
	NewBookingHandler(bookings).RegisterRoutes(root, jwt)
	NewResourceHandler(directory, availability).RegisterRoutes(root, jwt)
	NewAdminHandler(bookings, directory, ledger, intervals).RegisterRoutes(root, jwt)
	return &api{t: t, router: r, jwt: jwt}
}

func (a *api) token(role string) string {
	a.t.Helper()
	tok, err := a.jwt.GenerateAccessToken(uuid.New(), role)
	require.NoError(a.t, err)
	return tok
}

func (a *api) do(method, path, token string, body any) (*httptest.ResponseRecorder, response.Envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env response.Envelope
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (a *api) id(env response.Envelope) string {
	a.t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(a.t, ok, "unexpected data: %#v", env.Data)
	return data["id"].(string)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	admin := a.token(auth.RoleAdmin)
	user := a.token(auth.RoleResearcher)

	w, env := a.do(http.MethodPost, "/api/v1/admin/labs", admin, map[string]string{"name": "Optics"})
	require.Equal(t, http.StatusCreated, w.Code)
	labID := a.id(env)

	w, env = a.do(http.MethodPost, "/api/v1/admin/resources", admin, map[string]any{
		"lab_id": labID,
		"name":   "Spectrometer",
		"kind":   "fixed",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	resourceID := a.id(env)

	start := time.Date(2030, 5, 6, 9, 0, 0, 0, time.UTC)
	booking := map[string]any{
		"kind":      "reservation",
		"resources": []map[string]any{{"resource_id": resourceID, "quantity": 1}},
		"starts_at": start,
		"ends_at":   start.Add(time.Hour),
	}

	w, env = a.do(http.MethodPost, "/api/v1/bookings/preview", user, booking)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, env.Data.(map[string]any)["admissible"])

	w, env = a.do(http.MethodPost, "/api/v1/bookings", user, booking)
	require.Equal(t, http.StatusCreated, w.Code)
	bookingID := a.id(env)

	w, env = a.do(http.MethodPost, "/api/v1/bookings", a.token(auth.RoleResearcher), booking)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)
	assert.NotNil(t, env.Error.Details)

	q := url.Values{}
	q.Set("resource_id", resourceID)
	q.Set("from", start.Format(time.RFC3339))
	q.Set("to", start.Add(2*time.Hour).Format(time.RFC3339))
	w, env = a.do(http.MethodGet, "/api/v1/availability?"+q.Encode(), user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, env.Data.(map[string]any)["busy"])

	w, _ = a.do(http.MethodPost, "/api/v1/bookings/"+bookingID+"/transition", user, map[string]string{"target_status": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPost, "/api/v1/bookings/"+bookingID+"/transition", admin, map[string]string{"target_status": "APPROVED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "APPROVED", env.Data.(map[string]any)["status"])

	w, env = a.do(http.MethodPost, "/api/v1/bookings/"+bookingID+"/transition", admin, map[string]string{"target_status": "RETURNED"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ILLEGAL_TRANSITION", env.Error.Code)

	w, env = a.do(http.MethodGet, "/api/v1/bookings", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(1), env.Meta.Total)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	a := newAPI(t)

	w, _ := a.do(http.MethodGet, "/api/v1/admin/bookings", a.token(auth.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/admin/bookings", a.token(auth.RoleLabManager), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/admin/bookings?status=LOST", a.token(auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailabilityRejectsBadParameters(t *testing.T) {
	a := newAPI(t)
	user := a.token(auth.RoleStudent)

	w, _ := a.do(http.MethodGet, "/api/v1/availability?lab_id=nope&from=2030-01-01T00:00:00Z&to=2030-01-02T00:00:00Z", user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/availability?lab_id="+uuid.NewString()+"&from=yesterday&to=2030-01-02T00:00:00Z", user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/availability?lab_id="+uuid.NewString()+"&from=2030-01-01T00:00:00Z&to=2030-01-02T00:00:00Z", user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
