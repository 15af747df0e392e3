package auth

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/infra"
)

// StartListener — "живучая" подписка на сигналы отзыва ключей.
// Переподключается при обрывах; на каждом реконнекте перечитывает
// полное множество из Redis (Init), чтобы не потерять сигналы, прилетевшие
// за время разрыва.
func (c *RevocationCache) StartListener(ctx context.Context) {
	for {
		pubsub := c.rdb.Subscribe(ctx, infra.RedisChanRevocation)

		if _, err := pubsub.Receive(ctx); err != nil {
			c.logger.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := c.Init(ctx); err != nil {
			c.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "agent_id:true|false"
				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					c.logger.Error("invalid revocation signal", zap.String("payload", msg.Payload))
					continue
				}

				revoked := parts[1] == "true" || parts[1] == "on"
				c.markRevoked(parts[0], revoked)
				c.logger.Info("revocation signal applied",
					zap.String("agent_id", parts[0]), zap.Bool("revoked", revoked))
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
