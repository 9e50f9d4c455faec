/*
Package events delivers committed vault events to the outside world. Every sink here satisfies
vault.EventSink; the vault only hands over events of batches that committed.
*/
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/metrics"
	"github.com/elys-network/plasmavault/internal/types"
)

// Sink matches vault.EventSink.
type Sink interface {
	Publish(events []types.Event)
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: logger.GetForComponent("vault_events")}
}

func (s *LogSink) Publish(events []types.Event) {
	for _, e := range events {
		entry := s.logger.Info().
			Str("kind", string(e.Kind)).
			Str("vault", e.Vault.Hex()).
			Time("at", e.Timestamp)
		if e.MarketID != 0 {
			entry = entry.Uint64("market_id", uint64(e.MarketID))
		}
		if e.Protocol != "" {
			entry = entry.Str("protocol", e.Protocol)
		}
		for k, v := range e.Fields {
			entry = entry.Str(k, v)
		}
		entry.Msg("Vault event")
		metrics.EventsPublished.WithLabelValues("log", string(e.Kind)).Inc()
	}
}

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on "<prefix>.<vault>.<kind>", e.g.
// "plasmavault.0xabc....withdrawal_requested".
type NATSSink struct {
	conn   Publisher
	prefix string
	logger zerolog.Logger
}

func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "plasmavault"
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger.GetForComponent("nats_events")}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e types.Event) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, strings.ToLower(e.Vault.Hex()), strings.ToLower(string(e.Kind)))
}

// Publish never blocks the vault on delivery problems; failures are logged and counted.
func (s *NATSSink) Publish(events []types.Event) {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to encode event")
			metrics.EventsFailed.WithLabelValues("nats", string(e.Kind)).Inc()
			continue
		}
		subject := s.Subject(e)
		if err := s.conn.Publish(subject, data); err != nil {
			s.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
			metrics.EventsFailed.WithLabelValues("nats", string(e.Kind)).Inc()
			continue
		}
		metrics.EventsPublished.WithLabelValues("nats", string(e.Kind)).Inc()
	}
}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(events []types.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(events)
		}
	}
}

// Connect dials NATS with reconnect handling and keeps the connection gauge current.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	log := logger.GetForComponent("nats_events")
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	metrics.NATSConnectionStatus.Set(1)
	log.Info().Str("url", url).Msg("Connected to NATS")
	return conn, nil
}
