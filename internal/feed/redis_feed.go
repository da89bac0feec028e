// Package feed carries newly created public profiles to live matching
// sessions over Redis pub/sub, so candidates appear mid-session without
// a reload.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/event-checkin/internal/models"
)

// CandidateFeed is the realtime channel for per-event profile arrivals.
type CandidateFeed interface {
	PublishProfile(ctx context.Context, p models.ConnectionProfile) error
	Subscribe(ctx context.Context, eventID string, fn func(models.ConnectionProfile))
}

type RedisFeed struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisFeed(addr, password string, logger *slog.Logger) *RedisFeed {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisFeed{client: c, logger: logger}
}

func channelFor(eventID string) string { return "event:profiles:" + eventID }

func (f *RedisFeed) PublishProfile(ctx context.Context, p models.ConnectionProfile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channelFor(p.EventID), b).Err()
}

// Subscribe delivers profile arrivals for one event until ctx is
// canceled. Malformed payloads are logged and skipped.
func (f *RedisFeed) Subscribe(ctx context.Context, eventID string, fn func(models.ConnectionProfile)) {
	sub := f.client.Subscribe(ctx, channelFor(eventID))
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p models.ConnectionProfile
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					f.logger.Warn("feed: bad profile payload", "error", err)
					continue
				}
				fn(p)
			}
		}
	}()
}

func (f *RedisFeed) Close() error { return f.client.Close() }

// NopFeed is the fallback when Redis is not configured; sessions simply
// never receive mid-session arrivals.
type NopFeed struct{}

func (NopFeed) PublishProfile(ctx context.Context, p models.ConnectionProfile) error { return nil }
func (NopFeed) Subscribe(ctx context.Context, eventID string, fn func(models.ConnectionProfile)) {
}
