package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RafflesPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewRafflesPubSub(rdb *redis.Client) *RafflesPubSub {
	return &RafflesPubSub{
		rdb:     rdb,
		channel: ChannelRafflesChanged(),
	}
}

type raffleChangedMsg struct {
	Type     string `json:"type"`
	RaffleID int64  `json:"raffle_id"`
	TsUnix   int64  `json:"ts_unix"`
}

// PublishRaffleChanged tells live availability views that the occupied set of a
// raffle moved.
func (p *RafflesPubSub) PublishRaffleChanged(ctx context.Context, raffleID int64) error {
	msg := raffleChangedMsg{
		Type:     "raffle_changed",
		RaffleID: raffleID,
		TsUnix:   time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *RafflesPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, raffleID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev raffleChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.RaffleID != 0 {
				handler(ctx, ev.RaffleID)
			}
		}
	}
}
