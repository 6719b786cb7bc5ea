package natsx

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ntpoppe/sharply-sub000/logger"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

const (
	subjectPrefix = "chat.channel."
	headerOrigin  = "origin"
)

type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Bridge relays channel frames between gateway nodes over NATS core
// subjects, one subject per channel. Every node subscribes to the full
// channel wildcard and filters out its own publishes by origin header;
// messages are already durable by the time they hit the bus, so no
// JetStream is involved.
type Bridge struct {
	nc        *nats.Conn
	gatewayID string
	sub       *nats.Subscription
}

func Connect(cfg Config, gatewayID string) (*Bridge, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &Bridge{nc: nc, gatewayID: gatewayID}, nil
}

// PublishMessage forwards an already-persisted channel frame to peers.
func (b *Bridge) PublishMessage(ctx context.Context, channelID string, payload []byte) error {
	msg := nats.NewMsg(subjectPrefix + channelID)
	msg.Header.Set(headerOrigin, b.gatewayID)
	msg.Data = payload
	if err := b.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "publish channel frame", "channel", channelID)
	}
	return nil
}

// SubscribeMessages starts delivering peer frames to the handler,
// skipping frames this node published itself.
func (b *Bridge) SubscribeMessages(handler func(channelID string, payload []byte)) error {
	sub, err := b.nc.Subscribe(subjectPrefix+">", func(m *nats.Msg) {
		if m.Header.Get(headerOrigin) == b.gatewayID {
			return
		}
		channelID := strings.TrimPrefix(m.Subject, subjectPrefix)
		handler(channelID, m.Data)
	})
	if err != nil {
		return errs.WrapMsg(err, "subscribe channel frames")
	}
	b.sub = sub
	return nil
}

// Close drains the subscription and the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			logger.Warnf("[natsx] drain subscription: %v", err)
		}
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			logger.Warnf("[natsx] drain connection: %v", err)
		}
	}
}
