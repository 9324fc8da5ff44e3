package kafka

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/ertviz/pkg/errors"
)

type mockKafkaWriter struct {
	mu        sync.Mutex
	written   []kafka.Message
	writeErr  error
	closeErr  error
	closeHits int
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHits++
	return m.closeErr
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func (m *mockKafkaWriter) messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.written...)
}

func newTestProducer(w WriterInterface) *Producer {
	return newProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}}, logging.NewNopLogger())
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1}))

	err := ValidateProducerConfig(ProducerConfig{
		Brokers:  []string{"b"},
		Security: SecurityConfig{SASLEnabled: true, SASLMechanism: "PLAIN"},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	err = ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, Security: SecurityConfig{TLSEnabled: true}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestNewProducer_Defaults(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}}, logging.NewNopLogger())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, 1024*1024, p.config.MaxMessageBytes)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 4, w.MaxAttempts)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestNewProducer_SASLMechanisms(t *testing.T) {
	for _, mech := range []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"} {
		t.Run(mech, func(t *testing.T) {
			sec := SecurityConfig{SASLEnabled: true, SASLMechanism: mech, SASLUsername: "u", SASLPassword: "p"}
			p, err := NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, Security: sec}, logging.NewNopLogger())
			require.NoError(t, err)
			w := p.writer.(*kafka.Writer)
			assert.NotNil(t, w.Transport.(*kafka.Transport).SASL)
		})
	}

	sec := SecurityConfig{SASLEnabled: true, SASLMechanism: "GSSAPI", SASLUsername: "u", SASLPassword: "p"}
	_, err := NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, Security: sec}, logging.NewNopLogger())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestNewProducer_BadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	sec := SecurityConfig{TLSEnabled: true, TLSCertPath: path}
	_, err := NewProducer(ProducerConfig{Brokers: []string{"b:9092"}, Security: sec}, logging.NewNopLogger())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic:   "figures",
		Key:     []byte("sess-1"),
		Value:   []byte(`{"a":1}`),
		Headers: map[string]string{"event_type": "figure.rebuilt"},
	})
	require.NoError(t, err)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "figures", msgs[0].Topic)
	assert.Equal(t, "sess-1", string(msgs[0].Key))
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("figure.rebuilt")}}, msgs[0].Headers)
	assert.False(t, msgs[0].Time.IsZero())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(7), stats.BytesSent)
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Value: []byte("v")}), apperrors.ErrCodeValidation))
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t"}), apperrors.ErrCodeValidation))

	big := make([]byte, 1024*1024+1)
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t", Value: big}), apperrors.ErrCodeValidation))
}

func TestPublish_Failure(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{writeErr: errors.New("leader not available")})

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePublishFailed))
	assert.Equal(t, int64(1), p.Stats().MessagesFailed)
}

func TestProducerClose_Idempotent(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closeHits)
	assert.ErrorIs(t, p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")}), ErrProducerClosed)
}
