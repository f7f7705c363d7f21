package delivery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleMessage() TransformMessage {
	age := int64(52)
	res := record.BatchResult{
		Valid: []record.ValidatedRecord{{
			Name:             "City A",
			Coordinates:      record.Coordinates{X: 1, Y: 2},
			Area:             10.5,
			Population:       1000,
			Climate:          "TUNDRA",
			StandardOfLiving: "HIGH",
			Governor:         &record.Governor{Age: &age},
		}},
		Stats: record.Stats{Total: 1, Valid: 1},
	}
	return NewMessage("corr-1", "batch-1", res, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
}

func TestCheckPublishable(t *testing.T) {
	msg := sampleMessage()
	assert.NoError(t, msg.CheckPublishable())

	withErrors := sampleMessage()
	withErrors.Errors = []record.ValidationError{record.NewError(0, "name", "Name is required")}
	err := withErrors.CheckPublishable()
	assert.ErrorIs(t, err, sentinel.ErrInvalidBatch)

	empty := sampleMessage()
	empty.ValidCities = nil
	assert.ErrorIs(t, empty.CheckPublishable(), sentinel.ErrInvalidBatch)
}

func TestNewMessage_NonNilErrors(t *testing.T) {
	msg := NewMessage("c", "", record.BatchResult{}, time.Now())
	assert.NotNil(t, msg.Errors)
}

func TestCodecs_RoundTripPreservesMessage(t *testing.T) {
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			in := sampleMessage()
			data, err := codec.Encode(in)
			require.NoError(t, err)

			var out TransformMessage
			require.NoError(t, codec.Decode(data, &out))
			assert.Equal(t, in.CorrelationID, out.CorrelationID)
			assert.Equal(t, in.BatchID, out.BatchID)
			assert.True(t, in.ProducedAt.Equal(out.ProducedAt))
			require.Len(t, out.ValidCities, 1)
			assert.Equal(t, in.ValidCities[0].Coordinates, out.ValidCities[0].Coordinates)
			require.NotNil(t, out.ValidCities[0].Governor)
			assert.Equal(t, int64(52), *out.ValidCities[0].Governor.Age)
		})
	}
}

func TestCodecLookup(t *testing.T) {
	c, err := CodecByName("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeMsgpack, c.ContentType())

	c, err = CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, c.ContentType())

	_, err = CodecByName("avro")
	assert.Error(t, err)

	_, err = CodecForContentType("text/plain")
	assert.Error(t, err)
}

func TestMemoryChannel_DeliversInOrder(t *testing.T) {
	ch := NewMemoryChannel(Msgpack, 4, WithLogger(quietLogger()))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		msg := sampleMessage()
		msg.CorrelationID = id
		require.NoError(t, ch.Publish(ctx, msg))
	}
	assert.Equal(t, 3, ch.Pending())
	ch.Close()

	var got []string
	require.NoError(t, ch.Run(ctx, func(_ context.Context, m TransformMessage) error {
		got = append(got, m.CorrelationID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryChannel_RefusesInvalidBatch(t *testing.T) {
	ch := NewMemoryChannel(JSON, 1)
	msg := sampleMessage()
	msg.Errors = []record.ValidationError{record.NewError(0, "area", "Area must be > 0")}

	err := ch.Publish(context.Background(), msg)
	assert.ErrorIs(t, err, sentinel.ErrInvalidBatch)
	assert.False(t, sentinel.IsTransport(err))
	assert.Equal(t, 0, ch.Pending())
}

func TestMemoryChannel_PublishAfterClose(t *testing.T) {
	ch := NewMemoryChannel(JSON, 1)
	ch.Close()
	ch.Close()

	err := ch.Publish(context.Background(), sampleMessage())
	assert.True(t, sentinel.IsTransport(err))
}

func TestMemoryChannel_PublishBlocksUntilContextDone(t *testing.T) {
	ch := NewMemoryChannel(JSON, 1)
	require.NoError(t, ch.Publish(context.Background(), sampleMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ch.Publish(ctx, sampleMessage())
	assert.True(t, sentinel.IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryChannel_HandlerErrorDoesNotStopRun(t *testing.T) {
	ch := NewMemoryChannel(JSON, 2, WithLogger(quietLogger()))
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, sampleMessage()))
	require.NoError(t, ch.Publish(ctx, sampleMessage()))
	ch.Close()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, ch.Run(ctx, func(context.Context, TransformMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return assert.AnError
	}))
	assert.Equal(t, 2, calls)
}

func TestDecodeRecord_UsesHeaderAndKey(t *testing.T) {
	msg := sampleMessage()
	msg.CorrelationID = ""
	body, err := Msgpack.Encode(msg)
	require.NoError(t, err)

	rec := &kgo.Record{
		Key:     []byte("from-key"),
		Value:   body,
		Headers: []kgo.RecordHeader{{Key: HeaderContentType, Value: []byte(ContentTypeMsgpack)}},
	}
	got, err := decodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "from-key", got.CorrelationID)
	assert.Len(t, got.ValidCities, 1)

	rec.Headers = nil
	_, err = decodeRecord(rec)
	assert.Error(t, err, "msgpack body must not decode as JSON")
}

func TestKafkaConfig_Validate(t *testing.T) {
	err := KafkaConfig{}.validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")
	assert.Contains(t, err.Error(), "topic")
	assert.Contains(t, err.Error(), "group")

	assert.NoError(t, KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "cities"}.validate(false))
}
