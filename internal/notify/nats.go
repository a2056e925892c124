package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/donut-exchange/internal/domain"
)

// NATS subjects for exchange event egress.
const (
	SubjectOrders = "exchange.orders"
	SubjectTrades = "exchange.trades"
	SubjectErrors = "exchange.errors"
)

// NATSPublisher forwards notifier events onto NATS subjects, where the
// transport layer fans them out to connected clients. It is itself a
// Subscriber: wire it with notifier.Subscribe(pub).
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("donut-exchange"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Notify implements Subscriber. Publish failures are logged, not
// propagated: event egress is best effort and must never stall the
// matching path.
func (p *NATSPublisher) Notify(event domain.Event) {
	subject := subjectFor(event.Kind)

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal event", slog.String("error", err.Error()))
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func subjectFor(kind domain.EventKind) string {
	switch kind {
	case domain.EventTradeExecuted:
		return SubjectTrades
	case domain.EventError:
		return SubjectErrors
	default:
		return SubjectOrders
	}
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain", slog.String("error", err.Error()))
	}
}
