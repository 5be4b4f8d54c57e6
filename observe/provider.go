package observe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bt-bridge/consult-live/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	// Registry receives the exporter's collector. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
}

// Provider is an initialised meter provider backed by a Prometheus registry.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Registry      *prometheus.Registry
	// Resource describes the service on every exported metric.
	Resource *resource.Resource
}

// InitProvider builds a meter provider exporting to Prometheus and installs
// it as the global provider.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "consult-live"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)
	return &Provider{MeterProvider: mp, Registry: cfg.Registry, Resource: res}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() fasthttp.RequestHandler {
	h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	return func(rctx *fasthttp.RequestCtx) {
		switch string(rctx.Path()) {
		case "/metrics":
			h(rctx)
		case "/healthz":
			rctx.SetStatusCode(fasthttp.StatusOK)
			rctx.SetBodyString("ok")
		default:
			rctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

// Serve exposes /metrics on ln until ctx is done.
func (p *Provider) Serve(ctx context.Context, logger shared.LoggerAdapter, ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler:               p.Handler(),
		Name:                  "consult-live",
		NoDefaultServerHeader: true,
	}
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
