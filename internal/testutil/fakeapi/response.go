package fakeapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// response is the admin API's standard envelope.
type response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorInfo `json:"error,omitempty"`
	Meta    *meta      `json:"meta,omitempty"`
}

type errorInfo struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type meta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// tokenFailure is the flat body the auth layer uses for credential problems.
type tokenFailure struct {
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Path       string `json:"path"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Success: true, Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, response{Success: true, Data: data})
}

func successWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	c.JSON(http.StatusOK, response{
		Success: true,
		Data:    data,
		Meta:    &meta{Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages},
	})
}

func fail(c *gin.Context, statusCode int, code, message string, details ...fieldError) {
	c.AbortWithStatusJSON(statusCode, response{
		Success: false,
		Error:   &errorInfo{Code: code, Message: message, Details: details},
	})
}

func tokenError(c *gin.Context, statusCode int, status, message string) {
	c.AbortWithStatusJSON(statusCode, tokenFailure{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Status:     status,
		StatusCode: statusCode,
		Message:    message,
		Path:       c.Request.URL.Path,
	})
}
