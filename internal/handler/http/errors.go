package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"movie-match/internal/service"
)

// HandleServiceError 把服务层错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrInviteNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrDuplicateVote),
		errors.Is(err, service.ErrInvalidRoomState):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrTemporarilyUnavailable):
		logrus.WithError(err).Warn("Service temporarily unavailable")
		c.Header("Retry-After", "1")
		ErrorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
	default:
		// ErrGenerationExhausted 与其他内部错误一样不向客户端暴露细节
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
