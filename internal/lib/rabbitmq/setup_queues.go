package rabbitmq

import (
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// RoutingKeyEntitlementChanged ключ маршрутизации событий изменения доступа.
const RoutingKeyEntitlementChanged = "entitlement.changed"

// QueueConfig описывает очередь и её привязку к exchange.
// Exclusive очередь живёт, пока открыто соединение, и нужна каждому экземпляру API.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
	Exclusive  bool
	// MessageTTL и MaxLength ограничивают хранение сообщений. Нулевое значение снимает ограничение.
	MessageTTL time.Duration
	MaxLength  int
}

// Arguments аргументы объявления очереди для брокера.
func (q QueueConfig) Arguments() amqp.Table {
	args := amqp.Table{}
	if q.MessageTTL > 0 {
		args["x-message-ttl"] = q.MessageTTL.Milliseconds()
	}
	if q.MaxLength > 0 {
		args["x-max-length"] = int64(q.MaxLength)
		args["x-overflow"] = "drop-head"
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// DurableQueues очереди, которые объявляет сервис вебхуков. События в них
// переживают перезапуск брокера и доступны внешним потребителям.
// Сервис сам эту очередь не читает, поэтому хранение ограничено по времени и длине.
func DurableQueues(queue string, ttl time.Duration, maxLength int) []QueueConfig {
	return []QueueConfig{
		{
			QueueName:  queue,
			RoutingKey: RoutingKeyEntitlementChanged,
			MessageTTL: ttl,
			MaxLength:  maxLength,
		},
	}
}

// InstanceQueue очередь для одного экземпляра API. Каждый экземпляр получает
// собственную копию события и сбрасывает свой кэш.
func InstanceQueue(queue string) QueueConfig {
	return QueueConfig{
		QueueName:  queue + ".api." + uuid.NewString(),
		RoutingKey: RoutingKeyEntitlementChanged,
		Exclusive:  true,
	}
}
