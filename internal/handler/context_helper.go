package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/middleware"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
	"github.com/anzac2cdo/roster-api/pkg/response"
)

// requesterID returns the identity reference carried by the access token.
func requesterID(c *gin.Context) string {
	return middleware.CurrentPersonnelID(c)
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
