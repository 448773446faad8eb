package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

type recordingListener struct {
	events     []entities.LiveEvent
	reconnects int
}

func (r *recordingListener) listener() services.FeedListener {
	return services.FeedListener{
		OnEvent:     func(e entities.LiveEvent) { r.events = append(r.events, e) },
		OnReconnect: func() { r.reconnects++ },
	}
}

func TestMemoryChangeFeed_ScopedDelivery(t *testing.T) {
	feed := NewMemoryChangeFeed()
	ctx := context.Background()

	owner, staffA, staffB := &recordingListener{}, &recordingListener{}, &recordingListener{}
	_, err := feed.Subscribe(ctx, entities.Identity{UserID: "owner-1", Scope: entities.OwnerScope("salon-1")}, owner.listener())
	require.NoError(t, err)
	_, err = feed.Subscribe(ctx, entities.Identity{UserID: "staff-a", Scope: entities.StaffScope("salon-1", "staff-a")}, staffA.listener())
	require.NoError(t, err)
	handleB, err := feed.Subscribe(ctx, entities.Identity{UserID: "staff-b", Scope: entities.StaffScope("salon-1", "staff-b")}, staffB.listener())
	require.NoError(t, err)

	appointment := &entities.AppointmentEvent{ID: "appt-1", SalonID: "salon-1", StaffID: "staff-a", Status: entities.AppointmentStatusPending}
	require.NoError(t, feed.PublishAppointment(ctx, appointment))
	require.NoError(t, feed.PublishUserNotification(ctx, "staff-a", &entities.NotificationPayload{AppointmentID: "appt-1"}))

	assert.Len(t, owner.events, 1)
	require.Len(t, staffA.events, 2)
	assert.Equal(t, entities.LiveEventInsert, staffA.events[0].Kind)
	assert.Equal(t, entities.LiveEventBroadcast, staffA.events[1].Kind)
	assert.Empty(t, staffB.events)

	require.NoError(t, handleB.Close())
	assert.Equal(t, 2, feed.Subscribers())

	feed.Reconnect()
	assert.Equal(t, 1, owner.reconnects)
	assert.Equal(t, 0, staffB.reconnects)
}

func TestMemoryChangeFeed_RejectsInvalidIdentity(t *testing.T) {
	_, err := NewMemoryChangeFeed().Subscribe(context.Background(), entities.Identity{UserID: "u"}, services.FeedListener{})
	assert.ErrorIs(t, err, entities.ErrInvalidScope)
}
