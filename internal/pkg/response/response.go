package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Message: "success", Data: data})
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Message: message, Data: data})
}

// Redirect answers with a JSON body carrying the target as well, so API
// clients that do not follow redirects still see it.
func Redirect(c *gin.Context, location string) {
	c.Header("Location", location)
	c.JSON(http.StatusFound, Response{Message: "redirect", Data: gin.H{"location": location}})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Message: message})
}

// ParamError marks a malformed request, as opposed to a well-formed one
// that fails validation.
func ParamError(c *gin.Context, message string) {
	if message == "" {
		message = "bad request"
	}
	Error(c, http.StatusBadRequest, message)
}

// ValidationError marks a well-formed request rejected by business rules.
func ValidationError(c *gin.Context, message string) {
	if message == "" {
		message = "validation failed"
	}
	Error(c, http.StatusUnprocessableEntity, message)
}

func AuthError(c *gin.Context, message string) {
	if message == "" {
		message = "authentication failed"
	}
	Error(c, http.StatusUnauthorized, message)
}

func PermissionError(c *gin.Context, message string) {
	if message == "" {
		message = "permission denied"
	}
	Error(c, http.StatusForbidden, message)
}

func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = "not found"
	}
	Error(c, http.StatusNotFound, message)
}

func RateLimitError(c *gin.Context, message string) {
	if message == "" {
		message = "rate limited"
	}
	Error(c, http.StatusTooManyRequests, message)
}

func ServerError(c *gin.Context, message string) {
	if message == "" {
		message = "internal server error"
	}
	Error(c, http.StatusInternalServerError, message)
}
