package http

import (
	"net/http"

	"github.com/dreschagin/desertyard/internal/infrastructure/observability/metrics"
	"github.com/dreschagin/desertyard/internal/interfaces/http/handler"
	"github.com/dreschagin/desertyard/internal/interfaces/http/middleware"
	"github.com/dreschagin/desertyard/pkg/config"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// Router настраивает маршруты приложения
type Router struct {
	mux            *http.ServeMux
	indexHandler   *handler.SnapshotIndexHandler
	captureHandler *handler.CaptureHandler
	metrics        *metrics.Metrics
	limiter        *middleware.IPRateLimiter
	logger         *logger.Logger
}

// NewRouter создает новый router. limiter может быть nil, тогда ограничение выключено.
func NewRouter(
	indexHandler *handler.SnapshotIndexHandler,
	captureHandler *handler.CaptureHandler,
	m *metrics.Metrics,
	limiter *middleware.IPRateLimiter,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		indexHandler:   indexHandler,
		captureHandler: captureHandler,
		metrics:        m,
		limiter:        limiter,
		logger:         logger,
	}
}

// NewRateLimiter строит limiter по конфигурации или возвращает nil если он выключен
func NewRateLimiter(cfg config.RateLimitConfig) *middleware.IPRateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return middleware.NewIPRateLimiter(cfg.RPS, cfg.Burst).TrustProxyHeaders(cfg.TrustProxyHeaders)
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	rt.mux.HandleFunc("/healthz", rt.captureHandler.Healthz)
	rt.mux.HandleFunc("/readyz", rt.captureHandler.Readyz)
	rt.mux.Handle("/metrics", rt.metrics.Handler())

	rt.mux.HandleFunc("/api/v1/capture/status", rt.captureHandler.Status)
	rt.mux.HandleFunc("/api/v1/capture/run", rt.captureHandler.RunNow)

	// "/" ловит все остальные пути, handler сам отвечает 404 на неизвестные
	var index http.Handler = rt.indexHandler
	index = middleware.Compression(index)
	if rt.limiter != nil {
		index = middleware.RateLimit(rt.limiter, rt.metrics.RateLimitDropped.Inc)(index)
	}
	rt.mux.Handle("/", index)

	// Применяем middleware
	var handler http.Handler = rt.mux
	handler = rt.metrics.Middleware(handler)
	handler = middleware.Logger(rt.logger)(handler)
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
