package observe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Module provides the meter provider, the recorder instruments and the
// optional scrape endpoint.
var Module = fx.Module("observe",
	fx.Provide(
		NewMeterProvider,
		NewMetrics,
	),
	fx.Invoke(RegisterServer),
)

// MeterProviderParams holds dependencies for NewMeterProvider.
type MeterProviderParams struct {
	fx.In
	LC fx.Lifecycle
}

// MeterProviderResult exposes the provider both as the API interface and
// with its prometheus registry.
type MeterProviderResult struct {
	fx.Out
	Provider metric.MeterProvider
	Gatherer prometheus.Gatherer
}

// NewMeterProvider builds an SDK meter provider backed by a private
// prometheus registry.
func NewMeterProvider(params MeterProviderParams) (MeterProviderResult, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return MeterProviderResult{}, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	params.LC.Append(fx.Hook{
		OnStop: mp.Shutdown,
	})

	return MeterProviderResult{Provider: mp, Gatherer: registry}, nil
}

// ServerParams holds dependencies for RegisterServer.
type ServerParams struct {
	fx.In
	Cfg      *config.Config
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	LC       fx.Lifecycle
}

// RegisterServer serves /metrics on cfg.Metrics.Addr for the app lifetime.
// Nothing is started when the address is empty.
func RegisterServer(params ServerParams) {
	if params.Cfg.Metrics.Addr == "" {
		params.Logger.Debug("Metrics endpoint disabled")

		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              params.Cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			params.Logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("Metrics server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: srv.Shutdown,
	})
}
