package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/session"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/provider"
)

// エラーレスポンスの error フィールドに入るカテゴリ
const (
	categoryIndexNotReady       = "index_not_ready"
	categoryStoreNotFound       = "store_not_found"
	categoryUnsupportedInput    = "unsupported_input"
	categoryUnsupportedFileType = "unsupported_file_type"
	categoryFileTooLarge        = "file_too_large"
	categoryConfiguration       = "configuration"
	categoryProviderUnavailable = "provider_unavailable"
	categoryCanceled            = "canceled"
	categoryInternal            = "internal"
)

// errorResponse はエラー時のレスポンスボディ
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// classify はエラーを HTTP ステータスとカテゴリに分類する
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, vectorindex.ErrIndexNotReady):
		return http.StatusConflict, categoryIndexNotReady
	case errors.Is(err, vectorindex.ErrStoreNotFound):
		return http.StatusNotFound, categoryStoreNotFound
	case errors.Is(err, document.ErrUnsupportedFileType):
		return http.StatusBadRequest, categoryUnsupportedFileType
	case errors.Is(err, document.ErrUnsupportedInput),
		errors.Is(err, ask.ErrEmptyQuestion),
		errors.Is(err, session.ErrEmptySessionID):
		return http.StatusBadRequest, categoryUnsupportedInput
	case errors.Is(err, provider.ErrConfiguration),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, vectorindex.ErrDimensionMismatch):
		return http.StatusInternalServerError, categoryConfiguration
	case errors.Is(err, ask.ErrProviderUnavailable):
		return http.StatusBadGateway, categoryProviderUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, categoryCanceled
	default:
		return http.StatusInternalServerError, categoryInternal
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, category := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "category", category, "error", err)
	} else {
		s.logger.Warn("request rejected", "path", c.FullPath(), "category", category, "error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: category, Detail: err.Error()})
}
