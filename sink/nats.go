package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"motionbus.dev/gtfs/model"
)

// Publishes each position as JSON on <prefix>.<route_id>.<trip_id>,
// with "unknown" standing in for unresolved trips.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewNATSPublisher(url string, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats_publisher")

	nc, err := nats.Connect(url,
		nats.Name("gtfs-reconciler"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}

func (p *NATSPublisher) Publish(ctx context.Context, positions []model.VehiclePosition) error {
	var firstErr error
	failed := 0

	for _, pos := range positions {
		b, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("marshaling position: %w", err)
		}

		subject := positionSubject(p.prefix, pos)
		p.logger.Debug("nats publish", "subject", subject)

		if err := p.nc.Publish(subject, b); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("publishing %d of %d positions: %w", failed, len(positions), firstErr)
	}

	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing: %w", err)
	}

	return nil
}

func positionSubject(prefix string, pos model.VehiclePosition) string {
	trip := "unknown"
	if pos.TripID != nil {
		trip = strconv.Itoa(*pos.TripID)
	}

	tokens := []string{}
	for _, t := range strings.Split(prefix, ".") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, subjectToken(t))
		}
	}
	tokens = append(tokens, subjectToken(strconv.Itoa(pos.RouteID)), subjectToken(trip))

	return strings.Join(tokens, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
