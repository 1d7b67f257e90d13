package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skypro1111/live-caption-service/internal/config"
)

const (
	clientName = "live-caption-service"
	meterName  = "github.com/skypro1111/live-caption-service/internal/bus"
)

// Publisher forwards broadcast events to a NATS subject. It is registered in
// the broadcast registry like any other listener.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger

	// OpenTelemetry instruments
	published    metric.Int64Counter
	failed       metric.Int64Counter
	registration metric.Registration
}

// Connect dials the configured NATS servers
func Connect(cfg config.BusConfig, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if cfg.Subject == "" {
		return nil, errors.New("no NATS subject configured")
	}

	options := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(cfg.GetConnectTimeoutDuration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("server", conn.ConnectedUrl()))
		}),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	p := &Publisher{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}
	if err := p.initInstruments(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Connected to NATS",
		slog.String("servers", url),
		slog.String("subject", cfg.Subject),
	)

	return p, nil
}

func (p *Publisher) initInstruments() error {
	meter := otel.Meter(meterName)

	published, err := meter.Int64Counter("caption.bus.published",
		metric.WithDescription("Transcript events published to NATS"))
	if err != nil {
		return fmt.Errorf("create published counter: %w", err)
	}
	failed, err := meter.Int64Counter("caption.bus.publish_errors",
		metric.WithDescription("Transcript events that could not be published"))
	if err != nil {
		return fmt.Errorf("create publish error counter: %w", err)
	}
	connected, err := meter.Int64ObservableGauge("caption.bus.connected",
		metric.WithDescription("1 while the NATS connection is up"))
	if err != nil {
		return fmt.Errorf("create connection gauge: %w", err)
	}

	registration, err := meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var value int64
		if p.Healthy() {
			value = 1
		}
		obs.ObserveInt64(connected, value)
		return nil
	}, connected)
	if err != nil {
		return fmt.Errorf("register connection gauge: %w", err)
	}

	p.published = published
	p.failed = failed
	p.registration = registration
	return nil
}

// ID returns the listener identity
func (p *Publisher) ID() string {
	return "nats:" + p.subject
}

// Subject returns the subject events are published to
func (p *Publisher) Subject() string {
	return p.subject
}

// Send publishes one event payload
func (p *Publisher) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := metric.WithAttributes(attribute.String("subject", p.subject))
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.failed.Add(ctx, 1, subject)
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	p.published.Add(ctx, 1, subject)
	return nil
}

// Healthy reports whether the connection is up
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.logger.Info("Closing NATS connection")
	if p.registration != nil {
		p.registration.Unregister()
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", slog.String("error", err.Error()))
	}
	p.conn.Close()
}
