package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServer 把 http.Server 包装为 suture.Service，ctx 取消时优雅关闭。
type HTTPServer struct {
	Addr            string
	Handler         http.Handler
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger

	// Listener 非空时直接使用，测试中可传入 :0 端口
	Listener net.Listener
}

func (s *HTTPServer) String() string { return "http-server" }

// Serve 阻塞直到 ctx 取消或监听失败。
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler,
		ReadTimeout:       s.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", s.Addr).Msg("http server listening")
		var err error
		if s.Listener != nil {
			err = srv.Serve(s.Listener)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn().Err(err).Msg("http server shutdown")
		return err
	}
	s.Logger.Info().Msg("http server stopped")
	return nil
}
