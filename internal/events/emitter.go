// Package events publishes registration-lifecycle notifications to Kafka.
// Publishing is strictly fire-and-forget: a broker outage is logged and
// counted but never surfaces to the registration caller.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/pkg/metrics"
)

// Topic names on the bus, one per lifecycle transition.
const (
	TopicServiceRegistered   = "service-registered"
	TopicServiceUnregistered = "service-unregistered"
	TopicModuleRegistered    = "module-registered"
	TopicModuleUnregistered  = "module-unregistered"
)

const publishTimeout = 10 * time.Second

// Writer is the slice of kafka.Writer the emitter needs; swapped for a fake
// in tests.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Emitter owns one producer per topic. Safe for concurrent use; Close waits
// for in-flight publishes before releasing the producers.
type Emitter struct {
	writers map[string]Writer
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewEmitter builds producers against the given brokers, one per topic.
func NewEmitter(brokers []string, log *zap.Logger) *Emitter {
	topics := []string{
		TopicServiceRegistered,
		TopicServiceUnregistered,
		TopicModuleRegistered,
		TopicModuleUnregistered,
	}

	writers := make(map[string]Writer, len(topics))
	for _, topic := range topics {
		writers[topic] = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return &Emitter{writers: writers, log: log}
}

// EmitServiceRegistered publishes a ServiceRegistered record.
func (e *Emitter) EmitServiceRegistered(serviceID, serviceName, host string, port int, version string) {
	payload := encodeServiceRegistered(serviceID, serviceName, host, port, version, time.Now())
	e.publish(TopicServiceRegistered, serviceID, payload)
}

// EmitServiceUnregistered publishes a ServiceUnregistered record.
func (e *Emitter) EmitServiceUnregistered(serviceID, serviceName string) {
	payload := encodeServiceUnregistered(serviceID, serviceName, time.Now())
	e.publish(TopicServiceUnregistered, serviceID, payload)
}

// EmitModuleRegistered publishes a ModuleRegistered record. artifactID is
// empty when the schema registry sync was skipped.
func (e *Emitter) EmitModuleRegistered(serviceID, moduleName, host string, port int, version, schemaID, artifactID string) {
	payload := encodeModuleRegistered(serviceID, moduleName, host, port, version, schemaID, artifactID, time.Now())
	e.publish(TopicModuleRegistered, serviceID, payload)
}

// EmitModuleUnregistered publishes a ModuleUnregistered record.
func (e *Emitter) EmitModuleUnregistered(serviceID, moduleName string) {
	payload := encodeModuleUnregistered(serviceID, moduleName, time.Now())
	e.publish(TopicModuleUnregistered, serviceID, payload)
}

// publish hands the record to the topic's producer on a fresh goroutine. The
// key is a random UUID per record so partitions are spread evenly; consumers
// that need affinity re-key downstream.
func (e *Emitter) publish(topic, serviceID string, payload []byte) {
	writer, ok := e.writers[topic]
	if !ok {
		e.log.Error("No producer for topic", zap.String("topic", topic))
		return
	}

	key := uuid.New()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		err := writer.WriteMessages(ctx, kafka.Message{Key: key[:], Value: payload})
		if err != nil {
			metrics.EventEmitFailures.WithLabelValues(topic).Inc()
			e.log.Error("Failed to publish lifecycle event",
				zap.String("topic", topic),
				zap.String("service_id", serviceID),
				zap.Error(err))
			return
		}
		metrics.EventsEmitted.WithLabelValues(topic).Inc()
		e.log.Debug("Published lifecycle event",
			zap.String("topic", topic),
			zap.String("service_id", serviceID))
	}()
}

// Close waits for in-flight publishes, then closes every producer.
func (e *Emitter) Close() error {
	e.wg.Wait()

	var firstErr error
	for topic, writer := range e.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close producer for %s: %w", topic, err)
		}
	}
	return firstErr
}
