package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

var (
	webPushCapability = entities.NotificationCapability{
		Supported:          true,
		Strategy:           entities.StrategyWebPush,
		RequiresPermission: true,
		Family:             entities.DeviceFamilyAndroid,
	}
	realtimeCapability = entities.NotificationCapability{
		Supported: true,
		Strategy:  entities.StrategyRealtimeOnly,
		Family:    entities.DeviceFamilyIOS,
	}
)

func newTestRegistrar(channel *fakePushChannel, repo *fakeSubscriptionRepository, capability entities.NotificationCapability) *Registrar {
	return NewRegistrar(channel, repo, capability, RegistrarConfig{VAPIDPublicKey: "BVapidKey", UserAgent: "test-agent"}, nil, nil)
}

func TestRegistrar_SubscribeIsIdempotent(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionDefault)
	repo := newFakeSubscriptionRepository()
	r := newTestRegistrar(channel, repo, webPushCapability)
	ctx := context.Background()

	assert.True(t, r.Subscribe(ctx, "owner-1"))
	assert.True(t, r.Subscribe(ctx, "owner-1"))

	assert.Equal(t, 1, repo.count(), "same endpoint must map to one record")
	assert.Equal(t, 1, channel.promptCount())
	assert.Equal(t, entities.SubscriptionStatusSubscribed, r.Status())
	assert.Equal(t, "https://push.example.com/send/device-1", r.Endpoint())

	record := repo.get(r.Endpoint())
	require.NotNil(t, record)
	assert.Equal(t, entities.UserID("owner-1"), record.UserID())
	assert.Equal(t, "test-agent", record.UserAgent())
	assert.False(t, record.IsStale())
}

func TestRegistrar_DenialIsSticky(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionDefault)
	channel.promptResult = entities.PermissionDenied
	r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)
	ctx := context.Background()

	assert.False(t, r.Subscribe(ctx, "owner-1"))
	assert.Equal(t, entities.SubscriptionStatusPermissionDenied, r.Status())
	assert.ErrorIs(t, r.LastError(), entities.ErrPermissionDenied)

	// the platform may report default again; the session still must not re-prompt
	channel.mu.Lock()
	channel.permission = entities.PermissionDefault
	channel.mu.Unlock()

	assert.False(t, r.Subscribe(ctx, "owner-1"))
	assert.Equal(t, 1, channel.promptCount())
	assert.Equal(t, entities.SubscriptionStatusPermissionDenied, r.Status())
}

func TestRegistrar_GrantAfterDenialClearsStickyFlag(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionDenied)
	r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)
	ctx := context.Background()

	assert.False(t, r.Subscribe(ctx, "owner-1"))
	assert.Equal(t, 0, channel.promptCount())

	channel.mu.Lock()
	channel.permission = entities.PermissionGranted
	channel.mu.Unlock()
	r.OnPermissionChange(entities.PermissionGranted)
	assert.Equal(t, entities.SubscriptionStatusUnsubscribed, r.Status())

	assert.True(t, r.Subscribe(ctx, "owner-1"))
	assert.Equal(t, 0, channel.promptCount())
}

func TestRegistrar_NonWebPushNeverPrompts(t *testing.T) {
	for _, capability := range []entities.NotificationCapability{
		realtimeCapability,
		{Strategy: entities.StrategyUnsupported, Family: entities.DeviceFamilyDesktop},
	} {
		t.Run(string(capability.Strategy), func(t *testing.T) {
			channel := newFakePushChannel(entities.PermissionDefault)
			repo := newFakeSubscriptionRepository()
			r := newTestRegistrar(channel, repo, capability)

			assert.False(t, r.Subscribe(context.Background(), "staff-a"))
			assert.Equal(t, entities.SubscriptionStatusUnsupported, r.Status())
			assert.ErrorIs(t, r.LastError(), entities.ErrUnsupported)
			assert.Equal(t, 0, channel.promptCount())
			assert.Equal(t, 0, repo.count())
		})
	}
}

func TestRegistrar_UpsertFailureReportsError(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	repo := newFakeSubscriptionRepository()
	repo.upsertErr = errors.New("relation push_subscriptions does not exist")
	r := newTestRegistrar(channel, repo, webPushCapability)

	assert.False(t, r.Subscribe(context.Background(), "owner-1"))
	assert.Equal(t, entities.SubscriptionStatusError, r.Status())
	assert.ErrorIs(t, r.LastError(), entities.ErrSubscription)
	assert.Equal(t, entities.FailureSubscription, entities.Classify(r.LastError()))
}

func TestRegistrar_OpenFailureReportsError(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	channel.openErr = errors.New("push service unreachable")
	r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)

	assert.False(t, r.Subscribe(context.Background(), "owner-1"))
	assert.Equal(t, entities.SubscriptionStatusError, r.Status())
	assert.ErrorIs(t, r.LastError(), entities.ErrSubscription)
}

func TestRegistrar_DismissedPromptStaysDefault(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionDefault)
	channel.promptResult = entities.PermissionDefault
	r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)

	assert.False(t, r.Subscribe(context.Background(), "owner-1"))
	assert.Equal(t, entities.SubscriptionStatusPermissionDefault, r.Status())
	assert.NoError(t, r.LastError())
}

func TestRegistrar_UnsubscribeMarksRecordStale(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	repo := newFakeSubscriptionRepository()
	r := newTestRegistrar(channel, repo, webPushCapability)
	ctx := context.Background()

	require.True(t, r.Subscribe(ctx, "owner-1"))
	endpoint := r.Endpoint()

	assert.True(t, r.Unsubscribe(ctx))
	assert.Equal(t, entities.SubscriptionStatusUnsubscribed, r.Status())
	assert.Empty(t, r.Endpoint())
	assert.True(t, repo.get(endpoint).IsStale())

	current, err := channel.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestRegistrar_UnsubscribeWithoutRecordSucceeds(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)
	assert.True(t, r.Unsubscribe(context.Background()))
}

func TestRegistrar_ResyncRotatesEndpoint(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	repo := newFakeSubscriptionRepository()
	r := newTestRegistrar(channel, repo, webPushCapability)
	ctx := context.Background()

	require.True(t, r.Subscribe(ctx, "owner-1"))
	old := r.Endpoint()

	channel.mu.Lock()
	channel.nextEndpoint = "https://push.example.com/send/device-2"
	channel.mu.Unlock()

	assert.True(t, r.Resync(ctx))
	assert.Equal(t, "https://push.example.com/send/device-2", r.Endpoint())
	assert.True(t, repo.get(old).IsStale())
	assert.False(t, repo.get(r.Endpoint()).IsStale())
}

func TestRegistrar_ResyncRequiresActiveSubscription(t *testing.T) {
	channel := newFakePushChannel(entities.PermissionGranted)
	repo := newFakeSubscriptionRepository()
	r := newTestRegistrar(channel, repo, webPushCapability)

	assert.False(t, r.Resync(context.Background()))
	assert.Equal(t, 0, repo.count())
}

func TestRegistrar_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("permission states", func(t *testing.T) {
		tests := []struct {
			permission entities.Permission
			want       entities.SubscriptionStatus
		}{
			{entities.PermissionDefault, entities.SubscriptionStatusPermissionDefault},
			{entities.PermissionDenied, entities.SubscriptionStatusPermissionDenied},
			{entities.PermissionGranted, entities.SubscriptionStatusUnsubscribed},
		}
		for _, tt := range tests {
			r := newTestRegistrar(newFakePushChannel(tt.permission), newFakeSubscriptionRepository(), webPushCapability)
			assert.Equal(t, tt.want, r.Sync(ctx, "owner-1"), "permission %s", tt.permission)
		}
	})

	t.Run("existing channel", func(t *testing.T) {
		channel := newFakePushChannel(entities.PermissionGranted)
		_, err := channel.Open(ctx, "key")
		require.NoError(t, err)

		r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)
		assert.Equal(t, entities.SubscriptionStatusSubscribed, r.Sync(ctx, "owner-1"))
		assert.Equal(t, "https://push.example.com/send/device-1", r.Endpoint())
	})

	t.Run("realtime device", func(t *testing.T) {
		r := newTestRegistrar(newFakePushChannel(entities.PermissionDefault), newFakeSubscriptionRepository(), realtimeCapability)
		assert.Equal(t, entities.SubscriptionStatusUnsupported, r.Sync(ctx, "staff-a"))
	})

	t.Run("denied sync blocks later prompt", func(t *testing.T) {
		channel := newFakePushChannel(entities.PermissionDenied)
		r := newTestRegistrar(channel, newFakeSubscriptionRepository(), webPushCapability)
		r.Sync(ctx, "owner-1")

		channel.mu.Lock()
		channel.permission = entities.PermissionDefault
		channel.mu.Unlock()
		assert.False(t, r.Subscribe(ctx, "owner-1"))
		assert.Equal(t, 0, channel.promptCount())
	})
}

func TestRegistrar_EmptyUserFails(t *testing.T) {
	r := newTestRegistrar(newFakePushChannel(entities.PermissionGranted), newFakeSubscriptionRepository(), webPushCapability)
	assert.False(t, r.Subscribe(context.Background(), ""))
	assert.ErrorIs(t, r.LastError(), entities.ErrSubscription)
}
