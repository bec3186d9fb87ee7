package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/stream"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkHandle(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w, "sw-01")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Handle(stream.Notification{Object: stream.ObjectStream, ID: 7, Change: stream.ChangeAdd}))
	require.NoError(t, s.Handle(stream.Notification{Object: stream.ObjectCollection, ID: 1, Change: stream.ChangeModify, Count: 4}))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "stream.7", string(w.msgs[0].Key))
	assert.Equal(t, "collection.1", string(w.msgs[1].Key))
	assert.Equal(t, fixed, w.msgs[0].Time)
	assert.Contains(t, w.msgs[1].Headers, kafka.Header{Key: "change", Value: []byte("modify")})

	var m Message
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &m))
	assert.Equal(t, "sw-01", m.Node)
	assert.Equal(t, stream.ObjectCollection, m.Object)
	assert.Equal(t, uint32(1), m.ID)
	assert.Equal(t, uint32(4), m.Count)

	ok, failed := s.Published()
	assert.Equal(t, int64(2), ok)
	assert.Equal(t, int64(0), failed)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkHandle_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	s := NewKafkaSink(w, "sw-01")

	err := s.Handle(stream.Notification{Object: stream.ObjectStream, ID: 1})
	assert.ErrorContains(t, err, "broker down")

	ok, failed := s.Published()
	assert.Equal(t, int64(0), ok)
	assert.Equal(t, int64(1), failed)
}

func TestOpenKafka(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.KafkaConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg: config.KafkaConfig{
				Brokers: []string{"127.0.0.1:9092"}, Topic: "tsn",
				BatchSize: 10, BatchTimeout: "50ms", Compression: "gzip", MaxAttempts: 2,
			},
		},
		{
			name: "no compression",
			cfg: config.KafkaConfig{
				Brokers: []string{"127.0.0.1:9092"}, Topic: "tsn", BatchTimeout: "1s", Compression: "none",
			},
		},
		{
			name:    "bad timeout",
			cfg:     config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "tsn", BatchTimeout: "soon"},
			wantErr: true,
		},
		{
			name: "bad compression",
			cfg: config.KafkaConfig{
				Brokers: []string{"127.0.0.1:9092"}, Topic: "tsn", BatchTimeout: "1s", Compression: "zstd9",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenKafka(tt.cfg, "sw-01")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}
