package sigengine

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"trading-simv1/internal/api"
	"trading-simv1/internal/metrics"
)

type server interface {
	Start()
	Stop(ctx context.Context) error
}

// apiServer serves the REST and WebSocket routes.
type apiServer struct {
	srv *http.Server
	log *zap.Logger
}

func (s *apiServer) Start() {
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()
}

func (s *apiServer) Stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// startHTTP launches the API server (/ws, /api/v1/*, /healthz) and the
// metrics server (/metrics, /healthz). An empty address disables a server.
func (svc *Service) startHTTP() {
	if addr := svc.cfg.Server.HTTPAddr; addr != "" {
		router := api.NewRouter(api.Deps{
			Feed:   svc.hub,
			Runs:   svc.sqlReader,
			Health: svc.health,
			Log:    svc.log,
		})
		svc.servers = append(svc.servers, &apiServer{
			srv: &http.Server{Addr: addr, Handler: router},
			log: svc.log,
		})
	}
	if addr := svc.cfg.Server.MetricsAddr; addr != "" {
		svc.servers = append(svc.servers, metrics.NewServer(addr, svc.health, svc.registry, svc.log))
	}
	for _, s := range svc.servers {
		s.Start()
	}
}

func (svc *Service) stopHTTP(ctx context.Context) {
	for _, s := range svc.servers {
		if err := s.Stop(ctx); err != nil {
			svc.log.Warn("server shutdown", zap.Error(err))
		}
	}
	svc.servers = nil
}
