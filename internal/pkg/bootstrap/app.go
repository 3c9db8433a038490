// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/nacos"
	"nexus-wms/internal/tracing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
}

// Worker 是随服务一起启动的后台任务，ctx 取消后应尽快返回
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Config           *Config
	Nacos            *nacos.Client
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己独特的 HTTP 路由
	HealthCheck      func(ctx context.Context) error
	Workers          []Worker
	Closers          []func() error // 关停时按注册的逆序执行
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号或某个组件失败。
func StartService(info AppInfo) error {
	cfg := info.Config
	if cfg == nil {
		cfg = GetCurrentConfig()
	}

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.App.Env, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(info.HealthCheck))
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: info.Nacos})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var registeredIP string
	if info.Nacos != nil {
		ip, err := nacos.OutboundIP()
		if err != nil {
			return err
		}
		if err := info.Nacos.RegisterServiceInstance(info.ServiceName, ip, cfg.App.HTTPPort); err != nil {
			return err
		}
		registeredIP = ip
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info().Str("service", info.ServiceName).Str("addr", server.Addr).Msg("🚀 HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error {
			if err := w(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.L().Info().Str("service", info.ServiceName).Msg("🛑 Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if info.Nacos != nil {
			if err := info.Nacos.DeregisterServiceInstance(info.ServiceName, registeredIP, cfg.App.HTTPPort); err != nil {
				logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L().Error().Err(err).Msg("Error shutting down http server")
		}
		return nil
	})

	runErr := g.Wait()

	for i := len(info.Closers) - 1; i >= 0; i-- {
		if err := info.Closers[i](); err != nil {
			logger.L().Error().Err(err).Msg("Error closing resource")
		}
	}
	if info.Nacos != nil {
		info.Nacos.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.L().Info().Str("service", info.ServiceName).Msg("Service gracefully shut down")
	return runErr
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "DOWN", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "UP"})
	}
}
