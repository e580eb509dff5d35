package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"concept-rag/internal/rag"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		_ = c.Error(err)
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondPipelineError maps pipeline errors onto HTTP statuses.
func respondPipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyConcept):
		respondError(c, http.StatusBadRequest, "empty_concept", err)
	case errors.Is(err, rag.ErrNoConcepts):
		respondError(c, http.StatusBadRequest, "no_concepts", err)
	case errors.Is(err, rag.ErrOffDomain):
		respondError(c, http.StatusBadRequest, "off_domain", err)
	case errors.Is(err, rag.ErrFallbackUnavailable):
		respondError(c, http.StatusNotFound, "fallback_unavailable", err)
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
