package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription/internal/config"
	"subscription/internal/handler"
	"subscription/internal/middleware"
	"subscription/internal/service"
	"subscription/internal/tests"
)

const testJWTSecret = "router-test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := tests.NewMockStore()
	store.AddPlan(tests.TestPlan())
	psp := tests.NewMockPSP()

	notificationService := service.NewNotificationService()
	subscriptionService := service.NewSubscriptionService(store, nil)
	verificationService := service.NewVerificationService(store, psp, nil, subscriptionService, notificationService,
		service.NewReceiptService(notificationService), config.VerificationConfig{MaxGatewayAttempts: 1}, time.Second)

	// Never dialled: none of the requests below carry an Idempotency-Key.
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = redisClient.Close() })

	return NewRouter(RouterDeps{
		PaymentHandler: handler.NewPaymentHandler(
			service.NewPaymentService(store, psp, notificationService, config.GatewayConfig{}),
			verificationService,
			service.NewRefundService(store, psp, nil, notificationService, config.VerificationConfig{}, time.Second),
		),
		SubscriptionHandler: handler.NewSubscriptionHandler(subscriptionService),
		RedisClient:         redisClient,
		JWTSecret:           testJWTSecret,
	})
}

func serve(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/plans", "", nil).Code)
}

func TestRouter_PaymentRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	body := []byte(`{"external_id":"attempt-1"}`)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/v1/payments/verify", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/v1/payments/verify", "not-a-jwt", body).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/subscriptions/current", "", nil).Code)

	token, err := middleware.IssueToken(testJWTSecret, "owner-1", middleware.RoleUser, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/v1/payments/verify", token, body).Code)
}

func TestRouter_RefundRequiresAdmin(t *testing.T) {
	router := newTestRouter(t)

	token, err := middleware.IssueToken(testJWTSecret, "owner-1", middleware.RoleUser, time.Hour)
	require.NoError(t, err)

	w := serve(router, http.MethodPost, "/v1/payments/attempt-1/refund", token, []byte(`{}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
