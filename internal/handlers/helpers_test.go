package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comedores/internal/models"
	"comedores/internal/services"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"expired", services.ErrCodeExpired, http.StatusBadRequest, ""},
		{"invalid", &services.VerificationError{Kind: services.ErrCodeInvalid, RemainingAttempts: 1}, http.StatusBadRequest, ""},
		{"locked", &services.VerificationError{Kind: services.ErrTooManyAttempts, MaxTries: 3, RetryAfterSeconds: 60}, http.StatusLocked, "60"},
		{"cooldown", &services.VerificationError{Kind: services.ErrCooldownActive, RetryAfterSeconds: 12}, http.StatusTooManyRequests, "12"},
		{"throttled", &services.VerificationError{Kind: services.ErrResendThrottled, RetryAfterSeconds: 30}, http.StatusTooManyRequests, "30"},
		{"not found", services.ErrAccountNotFound, http.StatusNotFound, ""},
		{"verified", services.ErrAlreadyVerified, http.StatusConflict, ""},
		{"delivery", &services.VerificationError{Kind: services.ErrDeliveryFailed, Err: errors.New("smtp")}, http.StatusBadGateway, ""},
		{"input", fmt.Errorf("%w: email is required", services.ErrInvalidInput), http.StatusBadRequest, ""},
		{"credentials", services.ErrInvalidCredentials, http.StatusUnauthorized, ""},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/x", nil)

			respondError(c, zap.NewNop(), tc.err)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.retryAfter, w.Header().Get("Retry-After"))
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestRespondError_InputIsSpanishAndNamesTheField(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/register", nil)

	respondError(c, zap.NewNop(), &services.InputError{Field: "password", Reason: "shorter than 6 characters"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{
		"error": "La contraseña debe tener al menos 6 caracteres.",
		"code": "invalid_input",
		"fields": ["password"]
	}`, w.Body.String())
}

func TestBadRequest_HidesValidatorText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/register", func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, zap.NewNop(), err)
			return
		}
		c.Status(http.StatusOK)
	})
	r.POST("/donation", func(c *gin.Context) {
		var req donationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, zap.NewNop(), err)
			return
		}
		c.Status(http.StatusOK)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/register", `{"username":"ana","password":"secreto123"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{
		"error": "Ingresá un correo electrónico válido.",
		"code": "invalid_input",
		"fields": ["email"]
	}`, w.Body.String())

	w = post("/register", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), genericInputMessage)
	assert.NotContains(t, w.Body.String(), "Key:")
	assert.NotContains(t, w.Body.String(), "RegisterRequest")

	w = post("/register", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "Revisá los datos enviados.", "code": "invalid_input"}`, w.Body.String())

	w = post("/donation", `{"recipients":["a@example.com"],"comedor":"C","donor":"D","items":[{"name":"Arroz","quantity":0}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"fields":["items"]`)
}
