package activitymap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType:  auth.ActivityEventLoginSuccess,
		UserID:     "user-100",
		AccountID:  "account-7",
		Email:      "owner@example.com",
		Metadata:   map[string]any{"ip": "10.0.0.1"},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "user-100", out.ActorID)
	assert.Equal(t, string(auth.ActivityEventLoginSuccess), out.Verb)
	assert.Equal(t, "user", out.ObjectType)
	assert.Equal(t, "user-100", out.ObjectID)
	assert.Equal(t, "account-7", out.TenantID)
	assert.Equal(t, "auth", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))

	assert.Equal(t, "10.0.0.1", out.Metadata["ip"])
	assert.Equal(t, "account-7", out.Metadata[activitymap.MetadataKeyAccountID])
	assert.Equal(t, "owner@example.com", out.Metadata[activitymap.MetadataKeyEmail])
	assert.Len(t, event.Metadata, 1, "source metadata must not change")
}

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventPasswordResetSuccess,
		UserID:    "user-200",
		Email:     "reset@example.com",
		Metadata:  map[string]any{activitymap.MetadataKeyEmail: "kept@example.com"},
	}

	out := activitymap.Normalize(event,
		activitymap.WithChannel("security"),
		activitymap.WithObjectType("credential"),
		activitymap.WithClock(func() time.Time { return now }),
	)

	assert.Equal(t, "security", out.Channel)
	assert.Equal(t, "credential", out.ObjectType)
	assert.Equal(t, now, out.OccurredAt)
	assert.Equal(t, "kept@example.com", out.Metadata[activitymap.MetadataKeyEmail])
	assert.NotContains(t, out.Metadata, activitymap.MetadataKeyAccountID)
}

func TestNormalizeActorFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{"uses the user id", auth.ActivityEvent{UserID: "user-2"}, nil, "user-2"},
		{"default fallback", auth.ActivityEvent{Email: "ghost@example.com"}, nil, "anonymous"},
		{"configured fallback", auth.ActivityEvent{}, []activitymap.Option{activitymap.WithActorFallback("job")}, "job"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := activitymap.Normalize(tc.event, tc.opts...)
			assert.Equal(t, tc.expect, out.ActorID)
		})
	}
}

func TestSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithChannel("audit"))

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventAccountLocked,
		UserID:    "user-3",
	}))

	require.Len(t, got, 1)
	assert.Equal(t, string(auth.ActivityEventAccountLocked), got[0].Verb)
	assert.Equal(t, "audit", got[0].Channel)
}
