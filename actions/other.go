package actions

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gitlab.com/paramountdax-exchange/commission_engine/logger"
	"gitlab.com/paramountdax-exchange/commission_engine/service/caps"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// RequestError is the body of every failed request
type RequestError struct {
	Error string `json:"error"`
}

// Ping godoc
// swagger:route GET /ping misc ping
// Ping the server
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, "pong")
}

func abortWithError(c *gin.Context, code int, message string) {
	l := getlog(c)
	l.Debug().Int("resp_code", code).Msg(message)
	c.AbortWithStatusJSON(code, RequestError{Error: message})
}

// abortWithServiceError maps engine errors to status codes
func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case commission.IsValidationError(err):
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
	case caps.IsUnknownTier(err):
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
	case store.IsNotFound(err):
		abortWithError(c, http.StatusNotFound, "member not found")
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, "unable to complete the request")
	}
}

func getMemberID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abortWithError(c, http.StatusBadRequest, "invalid member id")
		return 0, false
	}
	c.Set("member_id", id)
	return id, true
}

func getlog(c *gin.Context) zerolog.Logger {
	return logger.GetLogger(c)
}
