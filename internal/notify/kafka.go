package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

// Broker publishes every event as JSON to a Kafka topic keyed by reference,
// so downstream consumers see one payment's events in order.
type Broker struct {
	Producer sarama.SyncProducer
	Topic    string
}

func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	return sarama.NewSyncProducer(brokers, config)
}

func (b *Broker) Name() string { return "kafka" }

func (b *Broker) Handle(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.Reference
	if key == "" {
		key = ev.VehicleID
	}
	_, _, err = b.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.Topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	})
	return err
}
