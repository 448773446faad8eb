package entities

// Strategy is the delivery mode a device is classified into
type Strategy string

const (
	StrategyWebPush      Strategy = "webpush"
	StrategyRealtimeOnly Strategy = "realtime"
	StrategyUnsupported  Strategy = "unsupported"
)

// DeviceFamily groups user agents by the notification rules that apply to them
type DeviceFamily string

const (
	DeviceFamilyIOS     DeviceFamily = "ios"
	DeviceFamilyAndroid DeviceFamily = "android"
	DeviceFamilyDesktop DeviceFamily = "desktop"
)

// DeviceProbe is the raw set of feature flags observed on a device.
// It is the only input of capability detection.
type DeviceProbe struct {
	UserAgent          string `json:"user_agent" mapstructure:"user_agent"`
	Standalone         bool   `json:"standalone" mapstructure:"standalone"`
	HasServiceWorker   bool   `json:"has_service_worker" mapstructure:"has_service_worker"`
	HasPushManager     bool   `json:"has_push_manager" mapstructure:"has_push_manager"`
	HasNotificationAPI bool   `json:"has_notification_api" mapstructure:"has_notification_api"`
	HasBadgeAPI        bool   `json:"has_badge_api" mapstructure:"has_badge_api"`
}

// HasPushSupport reports whether the push API and a background execution context are both present
func (p DeviceProbe) HasPushSupport() bool {
	return p.HasServiceWorker && p.HasPushManager && p.HasNotificationAPI
}

// NotificationCapability is the classification result for one device.
// Immutable for a session; recompute after install-state changes.
type NotificationCapability struct {
	Supported          bool         `json:"supported"`
	Strategy           Strategy     `json:"strategy"`
	RequiresPermission bool         `json:"requires_permission"`
	Family             DeviceFamily `json:"family"`
	Description        string       `json:"description"`
}

// IsWebPush returns true when the device can hold a durable push subscription
func (c NotificationCapability) IsWebPush() bool {
	return c.Strategy == StrategyWebPush
}

// IsUnsupported returns true when no notification API is available at all
func (c NotificationCapability) IsUnsupported() bool {
	return c.Strategy == StrategyUnsupported
}
