package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
)

// ConsumerMessage подписывается на очередь и обрабатывает сообщения пулом из workers горутин.
// Успешная обработка подтверждается Ack, ошибка возвращает сообщение в очередь.
// Возвращает канал, который закрывается после завершения всех обработчиков.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler func(context.Context, []byte) error) (<-chan struct{}, error) {
	const op = "rabbitmq.ConsumerMessage"
	deliveries, err := ch.Consume(
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
	go func() {
		defer close(done)
		dispatch(ctx, log, deliveries, workers, handler)
	}()
	return done, nil
}

func dispatch(ctx context.Context, log *slog.Logger, deliveries <-chan amqp.Delivery, workers int, handler func(context.Context, []byte) error) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// все воркеры заняты, а процесс останавливается: вернуть сообщение брокеру
				if err := d.Nack(false, true); err != nil {
					log.Error("failed to requeue message on shutdown", sl.Err(err))
				}
				return
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sem
					wg.Done()
				}()
				handle(ctx, log, d.Body, d.Acknowledger, d.DeliveryTag, handler)
			}(d)
		case <-ctx.Done():
			return
		}
	}
}

func handle(ctx context.Context, log *slog.Logger, body []byte, ack amqp.Acknowledger, tag uint64, handler func(context.Context, []byte) error) {
	if err := handler(ctx, body); err != nil {
		log.Error("failed to handle message, requeue", sl.Err(err))
		if nackErr := ack.Nack(tag, false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := ack.Ack(tag, false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
