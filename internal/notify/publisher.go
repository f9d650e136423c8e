package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel notifications are published on.
const DefaultChannel = "lunch:notifications"

// Publisher publishes notifications as JSON on a Redis pub/sub channel so
// connected front ends can render them.
type Publisher struct {
	R       *redis.Client
	Channel string
	Timeout time.Duration
	Log     zerolog.Logger
}

func (p Publisher) Notify(ctx context.Context, n Notification) {
	if p.R == nil {
		return
	}
	channel := p.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	payload, err := json.Marshal(n)
	if err != nil {
		p.Log.Error().Err(err).Msg("notify: encode notification")
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.R.Publish(pubCtx, channel, payload).Err(); err != nil {
		p.Log.Warn().Err(err).Str("channel", channel).Msg("notify: publish failed")
	}
}
