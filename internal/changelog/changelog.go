package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"foodledger/internal/model"
	"foodledger/internal/state"
)

// Op names the ledger operation recorded by an Entry.
type Op string

const (
	OpInitialize        Op = "initialize"
	OpAddFood           Op = "addFood"
	OpBuyFood           Op = "buyFood"
	OpUpdatePrice       Op = "updatePrice"
	OpRestockFood       Op = "restockFood"
	OpTransferOwnership Op = "transferOwnership"
)

// Entry is one accepted operation together with the state it produced.
type Entry struct {
	TxID    string         `json:"txId"`
	Seq     int64          `json:"seq"`
	Op      Op             `json:"op"`
	Caller  model.Identity `json:"caller"`
	At      time.Time      `json:"at"`
	Units   uint64         `json:"units,omitempty"`
	Payment model.Amount   `json:"payment,omitempty"`
	Food    *model.Food    `json:"food,omitempty"`
	Meta    model.Meta     `json:"meta"`
}

// Commit converts the entry into the state mutation it describes.
func (e Entry) Commit() state.Commit {
	return state.Commit{Seq: e.Seq, Meta: e.Meta, Food: e.Food}
}

// Key partitions entries: item operations by food id, the rest on a ledger key.
func (e Entry) Key() string {
	if e.Food != nil {
		return "food/" + strconv.FormatUint(e.Food.ID, 10)
	}
	return "ledger"
}

type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(ctx context.Context, e Entry) error {
	for _, w := range m.writers {
		if err := w.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FileWriter appends entries as JSON lines and fsyncs each one.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

// Path is the file the writer appends to.
func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(_ context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(&e); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// KafkaWriter publishes entries to a Kafka topic. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaWriter) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key()), Value: b})
}

// Close flushes and closes the underlying writer.
func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// SplitBrokers turns "a:9092, b:9092" into a broker list.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
