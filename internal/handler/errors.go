package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/internal/password"
	"github.com/jmerrifield20/authority/internal/users"
)

// Response bodies. Both login failure paths share msgInvalidCredentials so
// that callers cannot tell an unknown username from a wrong password.
const (
	msgInvalidCredentials = "invalid credentials"
	msgConflict           = "username or email already exists"
	msgInvalidBody        = "invalid request body"
	msgPasswordTooLong    = "password exceeds 72 bytes"
	msgUnauthorized       = "unauthorized"
	msgInternal           = "internal server error"
)

// writeError maps err onto the HTTP error envelope. Anything that is not a
// caller mistake is logged and reported as a bare 500.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		loginAttemptsTotal.WithLabelValues("unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
	case errors.Is(err, users.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": msgConflict})
	case errors.Is(err, password.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgPasswordTooLong})
	default:
		logger.Error(op+" failed", zap.Error(err), zap.String("request_id", RequestID(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
}

func writeBadRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
}
