package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/and161185/lms-core/internal/model"
)

type fakeClient struct {
	channel string
	message []byte
	err     error
}

func (f *fakeClient) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestPublisher_Publish(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, "")

	err := p.Publish(context.Background(), model.DomainEvent{
		ID: "e1", Type: model.EventCertificateIssued, ActorUserID: "u1", TargetID: "u1_c1",
	})
	require.NoError(t, err)
	require.Equal(t, DefaultChannel, fc.channel)

	var m map[string]any
	require.NoError(t, json.Unmarshal(fc.message, &m))
	require.Equal(t, "CERTIFICATE_ISSUED", m["type"])
	require.Equal(t, "u1_c1", m["targetId"])
}

func TestPublisher_PropagatesError(t *testing.T) {
	boom := errors.New("conn refused")
	p := New(&fakeClient{err: boom}, "ch")
	err := p.Publish(context.Background(), model.DomainEvent{ID: "e1"})
	require.ErrorIs(t, err, boom)
}
