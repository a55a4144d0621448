package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
)

// respondError maps internal error kinds to HTTP responses with a
// structured body.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, retrieval.ErrNotFound), errors.Is(err, knowledge.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Kind: "not_found", Message: "resource not found",
		})
	case errors.Is(err, llm.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Kind: "rate_limited", Message: "provider rate limit hit, retry later",
		})
	case errors.Is(err, llm.ErrUnauthenticated):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Kind: "unauthenticated", Message: "provider rejected credentials",
		})
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, llm.ErrNoProviderAvailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Kind: "upstream", Message: "upstream provider unavailable",
		})
	default:
		slog.Error("Unexpected API error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Kind: "internal", Message: "internal server error",
		})
	}
}

// respondValidation reports a client input error.
func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Kind: "validation", Message: message,
	})
}
