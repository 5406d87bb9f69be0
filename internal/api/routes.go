// Package api wires the HTTP surface: device authentication and the
// authenticated WebSocket upgrade.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/domain/repositories"
	"github.com/satriahrh/wicara/server/internal/auth"
	"github.com/satriahrh/wicara/server/internal/session"
	"github.com/satriahrh/wicara/server/internal/websocket"
)

// InitRoutes initializes all API routes.
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	registry *session.Registry,
	deviceRepo repositories.DeviceRepository,
	authenticator *auth.Authenticator,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:   "ok",
			Service:  "wicara-server",
			Sessions: registry.Len(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, deviceRepo, authenticator, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, c, authenticator, logger)
	})
}

func deviceAuth(c echo.Context, deviceRepo repositories.DeviceRepository, authenticator *auth.Authenticator, logger *zap.Logger) error {
	var req DeviceAuthRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	device, err := deviceRepo.ValidateDevice(c.Request().Context(), req.SerialNumber, req.SecretKey)
	if err != nil {
		logger.Warn("Device authentication failed",
			zap.String("serial_number", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, err := authenticator.GenerateDeviceToken(device.ID)
	if err != nil {
		logger.Error("Failed to generate device token",
			zap.String("device_id", device.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Device authenticated successfully",
		zap.String("device_id", device.ID),
		zap.String("serial_number", device.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(authenticator.TTL()),
		DeviceID:  device.ID,
	})
}

// websocketWithAuth handles WebSocket connections with JWT authentication.
func websocketWithAuth(hub *websocket.Hub, c echo.Context, authenticator *auth.Authenticator, logger *zap.Logger) error {
	// Extract JWT token from Authorization header only.
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	claims, err := authenticator.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != "device" {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only device tokens are allowed for WebSocket connections",
		})
	}

	if claims.DeviceID == "" {
		logger.Error("WebSocket connection rejected: missing device ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Device ID not found in token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("device_id", claims.DeviceID))

	return websocket.HandleWebSocket(hub, c, claims.DeviceID, logger)
}
