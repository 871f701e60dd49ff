package api

import (
	"net/http"

	"marketplace-api/internal/apperr"

	"github.com/gin-gonic/gin"
)

// Response is the uniform envelope for every endpoint, success or failure.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// respondErr maps the error's kind to an HTTP status and hides internal
// detail behind a generic message.
func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.Status(err), Response{Success: false, Message: apperr.MessageOf(err)})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Message: message})
}
