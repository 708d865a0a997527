package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParseUintParam parses a numeric path or query value.
func ParseUintParam(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}

// QueryLimit reads ?limit=, falling back to def and capping at max.
func QueryLimit(c *gin.Context, def, max int) int {
	limit := def
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// QueryOffset reads ?offset=, ignoring malformed or negative values.
func QueryOffset(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("offset"))
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
