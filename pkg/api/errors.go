package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// respondError maps service-layer errors to HTTP responses. Anything
// unexpected logs here and surfaces as a plain 500.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, runtimeconfig.ErrUnknownKey):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
