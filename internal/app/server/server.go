// Package server は gin による HTTP インターフェースを提供する
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/doc-rag/internal/platform/container"
)

const shutdownTimeout = 10 * time.Second

// Server は HTTP ハンドラと依存関係を保持する
type Server struct {
	container      *container.ServiceContainer
	maxUploadBytes int64
	logger         *slog.Logger
	router         *gin.Engine
}

// New は Server を作成してルーティングを登録する
func New(c *container.ServiceContainer) *Server {
	s := &Server{
		container:      c,
		maxUploadBytes: c.Config.MaxUploadBytes(),
		logger:         c.Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler は http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.container.Prometheus, promhttp.HandlerOpts{})))

	router.POST("/upload", s.upload)
	router.POST("/ask", s.ask)
	router.POST("/ask-stream", s.askStream)
	router.POST("/clear-memory", s.clearMemory)

	return router
}

// Run は addr で待ち受け、ctx がキャンセルされるとグレースフルに停止する
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で待ち受ける。ctx のキャンセル後も処理中のリクエストは shutdownTimeout まで続行する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// リクエストの context は停止シグナルから切り離す
		BaseContext: func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
