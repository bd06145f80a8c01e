// Copyright 2025 Redpanda Data, Inc.

// Package natsingress adapts a NATS JetStream consumer to core.IngressSource.
package natsingress

import (
	"context"
	"errors"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/redpanda-data/edgestream/internal/core"
	"github.com/redpanda-data/edgestream/internal/message"
)

// Config configures a Source.
type Config struct {
	URLs          string
	Subject       string
	Durable       string
	KeyHeader     string
	SequenceHeader string
}

// DefaultConfig returns defaults pointing at a local NATS server.
func DefaultConfig() Config {
	return Config{
		URLs:           nats.DefaultURL,
		Subject:        "edgestream.telemetry",
		Durable:        "edgestream",
		KeyHeader:      "key",
		SequenceHeader: "sequence",
	}
}

// Source pulls messages from a JetStream durable consumer and converts them
// into message.Message values for Pipeline.Ingest.
type Source struct {
	cfg Config
	nc  *nats.Conn
	sub *nats.Subscription
}

var _ core.IngressSource = (*Source)(nil)

// Connect dials the configured NATS servers and binds a pull subscription.
func Connect(cfg Config) (*Source, error) {
	nc, err := nats.Connect(cfg.URLs, nats.Name("edgestream"))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Source{cfg: cfg, nc: nc, sub: sub}, nil
}

// Recv implements core.IngressSource, fetching a single message and acking
// it once it has been handed off (at-least-once into C1; C1's dedup of
// stale/duplicate sequences absorbs a redelivery).
func (s *Source) Recv(ctx context.Context) (message.Message, error) {
	msgs, err := s.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return message.Message{}, core.ErrChannelClosed
		}
		return message.Message{}, err
	}
	nm := msgs[0]

	key := nm.Header.Get(s.cfg.KeyHeader)
	seq, _ := strconv.ParseUint(nm.Header.Get(s.cfg.SequenceHeader), 10, 64)

	meta := map[string]string{}
	for k := range nm.Header {
		meta[k] = nm.Header.Get(k)
	}

	if err := nm.Ack(); err != nil {
		return message.Message{}, err
	}

	return message.Message{
		Key:       key,
		Sequence:  seq,
		Timestamp: message.Now(),
		Payload:   nm.Data,
		Metadata:  meta,
	}, nil
}

// Close unsubscribes and closes the connection.
func (s *Source) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	s.nc.Close()
	return nil
}
