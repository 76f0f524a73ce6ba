package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

const natsPublishTimeout = 5 * time.Second

func init() {
	apply.RegisterApplier("nats", func(config cfg.ApplierConfiguration) (apply.Applier, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL, config.TopicPrefix)
	})
}

// NatsSink applies events by publishing them to NATS JetStream
type NatsSink struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	topicPrefix string
	streams     *xsync.MapOf[string, struct{}] // streams already ensured
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(url, topicPrefix string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	return &NatsSink{
		nc:          nc,
		js:          js,
		topicPrefix: topicPrefix,
		streams:     xsync.NewMapOf[string, struct{}](),
	}, nil
}

// Apply publishes the event as a msgpack record on its subject. The
// ordering key and source position travel as headers.
func (n *NatsSink) Apply(ctx context.Context, ev *event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
	defer cancel()

	subject := buildTopic(n.topicPrefix, ev)
	if err := n.ensureStream(ctx, subject); err != nil {
		return err
	}

	msg, err := natsMessage(subject, ev)
	if err != nil {
		return err
	}

	// Msg-Id lets JetStream discard a republish after a retried apply.
	if _, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(msgID(ev))); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func natsMessage(subject string, ev *event.Event) (*nats.Msg, error) {
	value, err := ev.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = value
	msg.Header.Set("key", ev.Key())
	msg.Header.Set("source", ev.Source())
	msg.Header.Set("seqno", strconv.FormatUint(ev.Seqno(), 10))
	return msg, nil
}

func msgID(ev *event.Event) string {
	return ev.Source() + ":" + strconv.FormatUint(ev.Seqno(), 10)
}

func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if _, ok := n.streams.Load(subject); ok {
		return nil
	}

	name := sanitizeStreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Duplicates: 2 * time.Minute,
		Subjects:   []string{subject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}

	n.streams.Store(subject, struct{}{})
	return nil
}

// Close drops the connection; unacknowledged publishes are abandoned.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name.
// Stream names can't contain ".", "*", ">" or whitespace.
func sanitizeStreamName(subject string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		default:
			return r
		}
	}, subject)
}
