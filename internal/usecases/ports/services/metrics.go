package services

import "github.com/treservi/notify-engine/internal/domain/entities"

// EngineMetrics observes engine activity
type EngineMetrics interface {
	FetchCompleted(ok bool)
	FetchDiscarded()
	LiveEventReceived(kind entities.LiveEventKind, counted bool)
	BadgeRendered(count int)
	SubscriptionStatusChanged(status entities.SubscriptionStatus)
	PushDelivered(ok bool)
	StorageFailure(op string)
}

// NoopMetrics discards every observation
type NoopMetrics struct{}

func (NoopMetrics) FetchCompleted(bool) {}
func (NoopMetrics) FetchDiscarded() {}
func (NoopMetrics) LiveEventReceived(entities.LiveEventKind, bool) {}
func (NoopMetrics) BadgeRendered(int) {}
func (NoopMetrics) SubscriptionStatusChanged(entities.SubscriptionStatus) {}
func (NoopMetrics) PushDelivered(bool) {}
func (NoopMetrics) StorageFailure(string) {}
