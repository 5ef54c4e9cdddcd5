package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// mirrorPublishTimeout bounds a single JetStream publish inside Forward.
const mirrorPublishTimeout = 5 * time.Second

type MirrorConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep events
	MaxMsgs         int64         // Max number of events to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		URL:             nats.DefaultURL,
		StreamName:      "PICTIONARY_EVENTS",
		SubjectPrefix:   "pictionary.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Mirror copies every bus envelope into a JetStream stream so external
// consumers (bots, analytics, replays) can tail game activity. Browsers
// are served by the in-process bus; the mirror is observational only.
type Mirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config MirrorConfig
}

func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	m := &Mirror{nc: nc, js: js, config: cfg}

	if err := m.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return m, nil
}

func (m *Mirror) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        m.config.StreamName,
		Description: "Pictionary game event mirror",
		Subjects:    []string{fmt.Sprintf("%s.>", m.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.config.MaxAge,
		MaxMsgs:     m.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    m.config.Replicas,
		Duplicates:  m.config.DuplicateWindow,
	}

	stream, err := m.js.Stream(ctx, m.config.StreamName)
	if err != nil {
		if _, err = m.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", m.config.StreamName).
			Msg("created JetStream stream")
	} else {
		info, err := stream.Info(ctx)
		if err != nil {
			return fmt.Errorf("get stream info: %w", err)
		}
		if !isStreamConfigEqual(info.Config, sc) {
			if _, err = m.js.UpdateStream(ctx, sc); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			log.Info().
				Str("stream", m.config.StreamName).
				Msg("updated JetStream stream")
		}
	}
	return nil
}

// Publish writes one envelope to the stream. The envelope ID doubles as
// the JetStream message ID so redeliveries dedupe server-side.
func (m *Mirror) Publish(ctx context.Context, env Envelope) error {
	subject := fmt.Sprintf("%s.%s", m.config.SubjectPrefix, env.Type)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ack, err := m.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(env.Type)},
			"Game":       []string{string(env.Game)},
			"Event-ID":   []string{env.ID.String()},
		},
	},
		jetstream.WithMsgID(env.ID.String()),
		jetstream.WithExpectStream(m.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", env.ID.String()).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("mirrored to JetStream")

	return nil
}

// Forward subscribes to the bus and streams every envelope to JetStream
// until the returned stop function is called. Publish failures are logged
// and dropped; the mirror never blocks or fails the in-process fanout.
func (m *Mirror) Forward(bus *Bus) (stop func()) {
	ch := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for env := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorPublishTimeout)
			if err := m.Publish(ctx, env); err != nil {
				log.Warn().
					Err(err).
					Str("type", string(env.Type)).
					Str("event_id", env.ID.String()).
					Msg("jetstream mirror publish failed, dropping event")
			}
			cancel()
		}
	}()

	return func() {
		bus.Unsubscribe(ch)
		<-done
	}
}

func (m *Mirror) Close() error {
	if m.nc != nil {
		m.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
