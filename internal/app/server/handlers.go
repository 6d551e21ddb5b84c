package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/document"
)

// multipart ヘッダ分の余裕
const multipartOverhead = 64 << 10

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sourceItem struct {
	Page    string `json:"page"`
	Snippet string `json:"snippet"`
}

type askResponse struct {
	Answer     string       `json:"answer"`
	Sources    []sourceItem `json:"sources"`
	Confidence string       `json:"confidence"`
}

type uploadResponse struct {
	Message     string `json:"message"`
	TotalChunks int    `json:"total_chunks"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"index_ready": s.container.Index.Ready(),
		"chunks":      s.container.Index.Len(),
		"backend":     s.container.Backend.Name(),
	})
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeTooLarge(c)
			return
		}
		s.writeError(c, fmt.Errorf("%w: multipart field \"file\" is required: %w", document.ErrUnsupportedInput, err))
		return
	}
	if fh.Size > s.maxUploadBytes {
		s.writeTooLarge(c)
		return
	}

	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		s.writeError(c, fmt.Errorf("%w: file name is empty", document.ErrUnsupportedInput))
		return
	}

	dir, err := os.MkdirTemp("", "docrag-upload-*")
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to create upload directory: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		s.writeError(c, fmt.Errorf("failed to save upload: %w", err))
		return
	}

	result, err := s.container.Ingestion.IngestFile(c.Request.Context(), path)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Message:     "Document processed successfully.",
		TotalChunks: result.TotalChunks,
	})
}

func (s *Server) writeTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{
		Error:  categoryFileTooLarge,
		Detail: fmt.Sprintf("file exceeds %d bytes", s.maxUploadBytes),
	})
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %w", document.ErrUnsupportedInput, err))
		return
	}

	orch, err := s.container.Sessions.GetOrCreate(req.SessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := orch.Ask(c.Request.Context(), req.Question)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAskResponse(result))
}

// askStream はトークンを text/plain で逐次書き出す
// 最初のトークン前に失敗した場合だけ JSON のエラーを返せる
func (s *Server) askStream(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %w", document.ErrUnsupportedInput, err))
		return
	}

	orch, err := s.container.Sessions.GetOrCreate(req.SessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	started := false
	start := func() {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		started = true
	}

	for token, err := range orch.AskStream(c.Request.Context(), req.Question) {
		if err != nil {
			if !started {
				s.writeError(c, err)
				return
			}
			s.logger.Warn("stream aborted", "sessionID", req.SessionID, "error", err)
			return
		}
		if !started {
			start()
		}
		if _, err := c.Writer.WriteString(token); err != nil {
			s.logger.Info("client went away during stream", "sessionID", req.SessionID, "error", err)
			return
		}
		c.Writer.Flush()
	}

	if !started {
		start()
	}
}

func (s *Server) clearMemory(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %w", document.ErrUnsupportedInput, err))
		return
	}
	if req.SessionID == "" {
		s.writeError(c, fmt.Errorf("%w: session_id is required", document.ErrUnsupportedInput))
		return
	}

	s.container.Sessions.Clear(req.SessionID)
	c.JSON(http.StatusOK, messageResponse{Message: "Conversation memory cleared."})
}

func toAskResponse(result *ask.AskResult) askResponse {
	sources := make([]sourceItem, 0, len(result.Sources))
	for _, src := range result.Sources {
		sources = append(sources, sourceItem{Page: src.Page, Snippet: src.Snippet})
	}
	return askResponse{
		Answer:     result.Answer,
		Sources:    sources,
		Confidence: string(result.Confidence),
	}
}
