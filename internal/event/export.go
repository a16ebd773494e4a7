package event

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// amqpExporter publishes every broker event onto an AMQP exchange for
// out-of-process observers, mirroring the teacher's MessageCreated ->
// AMQP fan-out (internal/handler/amqp) generalized from "one chat
// message" to "one connection-graph event" (spec §10/§11: the event
// broker's external export path).
type amqpExporter struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewAMQPExporter builds an Exporter publishing to topic over amqpURI
// using watermill's AMQP pub/sub binding.
func NewAMQPExporter(amqpURI, topic string, logger *slog.Logger) (Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)
	cfg := amqp.NewDurablePubSubConfig(amqpURI, amqp.GenerateQueueNameTopicNameWithSuffix("mediaproxy-events"))
	pub, err := amqp.NewPublisher(cfg, wmLogger)
	if err != nil {
		return nil, err
	}
	return &amqpExporter{publisher: pub, topic: topic, logger: logger}, nil
}

func (e *amqpExporter) Export(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("event export: marshal failed", "error", err)
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := e.publisher.Publish(e.topic, msg); err != nil {
		e.logger.Warn("event export: publish failed", "error", err, "topic", e.topic)
	}
}
