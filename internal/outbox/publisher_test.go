package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/outbox"
)

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func TestNewEvent(t *testing.T) {
	e, err := outbox.NewEvent(outbox.TypeShipmentStatusChanged, "tenant-a", "shp-1",
		outbox.StatusChanged{ShipmentID: "shp-1", AWB: "149"}, relayNow)
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, relayNow, e.NextAttemptAt)
	var p outbox.StatusChanged
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	assert.Equal(t, "149", p.AWB)

	_, err = outbox.NewEvent("x", "", "", make(chan int), relayNow)
	assert.Error(t, err)
}

func TestRedisPublisher(t *testing.T) {
	client := &fakeRedis{}
	pub := outbox.NewRedisPublisherWithClient(client, "courier:")
	e := newEvent(t, outbox.TypeCaseOpened, 0)

	require.NoError(t, pub.Publish(context.Background(), e))

	assert.Equal(t, "courier:ndr.case_opened", client.channel)
	var got outbox.Event
	require.NoError(t, json.Unmarshal(client.message, &got))
	assert.Equal(t, e.ID, got.ID)

	client.err = errors.New("connection refused")
	assert.ErrorContains(t, pub.Publish(context.Background(), e), "connection refused")
}

func TestNewRedisPublisher_BadURL(t *testing.T) {
	_, err := outbox.NewRedisPublisher("not-a-url", "")
	assert.Error(t, err)
}

func TestSNSPublisher(t *testing.T) {
	client := &fakeSNS{}
	pub := outbox.NewSNSPublisherWithClient(client, "arn:aws:sns:ap-south-1:000000000000:courier-events")
	e := newEvent(t, outbox.TypeRestockRequested, 0)

	require.NoError(t, pub.Publish(context.Background(), e))

	require.NotNil(t, client.input)
	assert.Equal(t, "arn:aws:sns:ap-south-1:000000000000:courier-events", *client.input.TopicArn)
	assert.Equal(t, outbox.TypeRestockRequested, *client.input.MessageAttributes["event_type"].StringValue)
	assert.Equal(t, "tenant-a", *client.input.MessageAttributes["tenant_id"].StringValue)

	client.err = errors.New("throttled")
	assert.ErrorContains(t, pub.Publish(context.Background(), e), "throttled")

	empty := outbox.NewSNSPublisherWithClient(client, "")
	assert.Error(t, empty.Publish(context.Background(), e))
}

func TestLogPublisher(t *testing.T) {
	pub := outbox.NewLogPublisher(nil)

	assert.Equal(t, "log", pub.Name())
	assert.NoError(t, pub.Publish(context.Background(), newEvent(t, outbox.TypeCaseUpdated, 0)))
}
