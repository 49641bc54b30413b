package api

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireAdmin authenticates admin calls with the shared token from the
// configured environment variable. Comparison is constant-time and an unset
// token fails closed. The optional CIDR allowlist narrows callers by source
// address; production refuses admin traffic without one.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := adminToken(c)
		configured := s.cfg.Admin.Token
		if configured == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "authentication required"})
			return
		}

		if reason, ok := s.sourceAllowed(c); !ok {
			s.log.Warn("Admin call refused by allowlist",
				"client_ip", c.ClientIP(), "reason", reason)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": reason})
			return
		}

		c.Next()
	}
}

// requireWriteEnabled gates mutating admin endpoints behind the
// ADMIN_WRITE_ENABLED deployment flag.
func (s *Server) requireWriteEnabled() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.Admin.WriteEnabled {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"error": "admin writes are disabled"})
			return
		}
		c.Next()
	}
}

// adminToken pulls the credential from "Authorization: Bearer <token>" or
// the x-admin-token header.
func adminToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.GetHeader("x-admin-token")
}

// sourceAllowed checks the client address against the allowlist. An empty
// allowlist admits everyone outside production.
func (s *Server) sourceAllowed(c *gin.Context) (string, bool) {
	if len(s.allowlist) == 0 {
		if s.cfg.Production() {
			return "admin allowlist must not be empty in production", false
		}
		return "", true
	}

	addr, err := netip.ParseAddr(c.ClientIP())
	if err != nil {
		return "unrecognized client address", false
	}
	addr = addr.Unmap()
	for _, prefix := range s.allowlist {
		if prefix.Contains(addr) {
			return "", true
		}
	}
	return "client address not in allowlist", false
}

// changedBy attributes audited writes. Proxy identity headers win over the
// generic fallback.
func changedBy(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	return "admin-api"
}
