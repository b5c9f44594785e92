package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/casescribe/internal/api/middleware"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requirePrincipal(c *gin.Context) (models.Principal, bool) {
	if p, ok := middleware.PrincipalFrom(c); ok {
		return p, true
	}
	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return models.Principal{}, false
}

// queryLimit parses ?limit= within [1, max], defaulting to def.
func queryLimit(c *gin.Context, def, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, utils.E(utils.CodeInvalidArgument, "Query", "limit must be between 1 and "+strconv.Itoa(max), err)
	}
	return n, nil
}
