package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Exporter publishes audit chain records to a Kafka topic so external
// consumers can follow the log without querying the gateway.
type Exporter struct {
	writer kafkaWriter
}

type ExportConfig struct {
	Brokers []string
	Topic   string
}

func NewExporter(cfg ExportConfig) (*Exporter, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Exporter{writer: w}, nil
}

func (e *Exporter) Publish(ctx context.Context, key string, rec chain.Record) error {
	if e == nil || e.writer == nil {
		return fmt.Errorf("exporter not initialized")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (e *Exporter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
