package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

// maxInFlight ограничивает число одновременно обрабатываемых сообщений.
const maxInFlight = 10

// ConsumerMessage запускает обработку сообщений очереди и возвращает управление сразу.
// Сообщение подтверждается после успешной обработки и возвращается в очередь при ошибке.
// Возвращаемый канал закрывается, когда все обработчики завершились.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, handler func(context.Context, []byte) error) (<-chan struct{}, error) {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	done := make(chan struct{})
	sem := make(chan struct{}, maxInFlight)
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(done)
		}()
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(d amqp.Delivery) {
					defer func() {
						<-sem
						wg.Done()
					}()
					if err := handler(ctx, d.Body); err != nil {
						log.Warn("message handling failed", slog.String("queue", queueName), sl.Err(err))
						if nackErr := d.Nack(false, true); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := d.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done, nil
}
