// Package events implements the optional Kafka notification publisher:
// best-effort async publication of block-committed and reorg
// notifications, so a downstream consumer can react without polling the
// store directly. Grounded in the async producer setup of
// datasync/chaindatafetcher/event/kafka/kafka.go, narrowed from that
// file's general broker/consumer/admin surface to the one-way publisher
// this system needs (the indexer never subscribes to Kafka itself).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/shark-indexer/indexer/internal/log"
)

var logger = log.NewModuleLogger(log.Events)

// BlockCommitted is published once for every block that is durably
// committed, whether alone or as part of a mini-batch.
type BlockCommitted struct {
	Height    uint64 `json:"height"`
	BlockID   string `json:"blockId"`
	TxCount   int    `json:"txCount"`
	Timestamp int64  `json:"timestamp"`
}

// ReorgHandled is published once reorg recovery completes.
type ReorgHandled struct {
	ForkHeight      uint64 `json:"forkHeight"`
	PreviousHeight  uint64 `json:"previousHeight"`
	Depth           uint64 `json:"depth"`
	Timestamp       int64  `json:"timestamp"`
}

const (
	topicBlocks = "shark-indexer-blocks"
	topicReorgs = "shark-indexer-reorgs"
)

// Publisher owns a Kafka async producer. The zero value is not usable;
// construct with New. A nil *Publisher is valid and every method on it
// is a no-op, so callers can wire events unconditionally and let
// configuration decide whether Kafka is actually enabled.
type Publisher struct {
	producer sarama.AsyncProducer
}

// New dials brokers and returns a ready Publisher. cmd/shark-indexer only
// calls it when at least one kafka broker is configured; otherwise it
// passes a nil *Publisher to every component instead.
func New(brokers []string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("start sarama producer: %w", err)
	}
	p := &Publisher{producer: producer}
	go p.drainErrors()
	return p, nil
}

// Close flushes and releases the underlying producer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishBlockCommitted notifies downstream consumers of a new durable
// block, keyed by block ID so partitioning groups a block's own events
// together.
func (p *Publisher) PublishBlockCommitted(evt BlockCommitted) {
	if p == nil {
		return
	}
	p.publish(topicBlocks, evt.BlockID, evt)
}

// PublishReorgHandled notifies downstream consumers that a reorg was
// recovered and some previously-committed heights were rolled back.
func (p *Publisher) PublishReorgHandled(evt ReorgHandled) {
	if p == nil {
		return
	}
	p.publish(topicReorgs, fmt.Sprintf("%d", evt.ForkHeight), evt)
}

func (p *Publisher) publish(topic, key string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal event", "topic", topic, "err", err)
		return
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
}

// drainErrors logs async producer failures. Publication is best-effort:
// a dropped event never blocks or fails ingestion.
func (p *Publisher) drainErrors() {
	for err := range p.producer.Errors() {
		logger.Warn("failed to publish event", "topic", err.Msg.Topic, "err", err.Err)
	}
}
