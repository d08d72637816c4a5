package redis

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"surgetrader/internal/models"
	"surgetrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SignalSubscriber лента сигналов всплеска из Pub/Sub канала
type SignalSubscriber struct {
	rdb     *redis.Client
	channel string
	log     *utils.Logger
	now     func() time.Time
}

// NewSignalSubscriber подписчик канала channel
func NewSignalSubscriber(c *Client, channel string, logger *utils.Logger) *SignalSubscriber {
	if logger == nil {
		logger = utils.L()
	}
	return &SignalSubscriber{
		rdb:     c.rdb,
		channel: channel,
		log:     logger.WithComponent("signal_feed"),
		now:     time.Now,
	}
}

// Subscribe подтверждает подписку и запускает пересылку сигналов в out.
// Невалидные сообщения логируются и пропускаются. Канал out не закрывается.
func (s *SignalSubscriber) Subscribe(ctx context.Context, out chan<- models.Signal) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", s.channel, err)
	}
	s.log.Info("subscribed to signal channel", utils.String("channel", s.channel))

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sig, err := decodeSignal([]byte(msg.Payload), s.now())
				if err != nil {
					s.log.Warn("invalid signal payload", utils.Err(err), utils.String("payload", truncate(msg.Payload, 256)))
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// Publish отправка сигнала в канал (утилиты и интеграционные проверки)
func (s *SignalSubscriber) Publish(ctx context.Context, sig models.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	return nil
}

// decodeSignal JSON -> Signal; без timestamp берётся время получения
func decodeSignal(payload []byte, now time.Time) (models.Signal, error) {
	var sig models.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return models.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	sig.Symbol = utils.NormalizeSymbol(sig.Symbol)
	if sig.Timestamp.IsZero() {
		sig.Timestamp = now.UTC()
	}
	sig.Source = "redis"
	if err := sig.Validate(); err != nil {
		return models.Signal{}, err
	}
	return sig, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
