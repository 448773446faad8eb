package services

import "github.com/treservi/notify-engine/internal/domain/entities"

// minIOSWebPushVersion is the first iOS major release that delivers web push to installed apps
const minIOSWebPushVersion = 16

// DetectCapability classifies a device into a notification strategy.
// It is pure: the same probe always yields the same capability.
func DetectCapability(probe entities.DeviceProbe) entities.NotificationCapability {
	ua := ParseUserAgent(probe.UserAgent)

	if !probe.HasServiceWorker && !probe.HasPushManager && !probe.HasNotificationAPI {
		return entities.NotificationCapability{
			Supported:   false,
			Strategy:    entities.StrategyUnsupported,
			Family:      ua.Family,
			Description: "Notifications not supported on this device",
		}
	}

	if ua.Family == entities.DeviceFamilyIOS {
		iosPushCapable := ua.IOSVersion == 0 || ua.IOSVersion >= minIOSWebPushVersion
		if probe.Standalone && probe.HasPushSupport() && iosPushCapable {
			return entities.NotificationCapability{
				Supported:          true,
				Strategy:           entities.StrategyWebPush,
				RequiresPermission: true,
				Family:             ua.Family,
				Description:        "iOS installed app: web push notifications supported",
			}
		}
		return entities.NotificationCapability{
			Supported:          true,
			Strategy:           entities.StrategyRealtimeOnly,
			RequiresPermission: false,
			Family:             ua.Family,
			Description:        "iOS browser tab: using realtime notifications",
		}
	}

	if probe.HasPushSupport() {
		return entities.NotificationCapability{
			Supported:          true,
			Strategy:           entities.StrategyWebPush,
			RequiresPermission: true,
			Family:             ua.Family,
			Description:        "Web push notifications supported",
		}
	}

	if probe.HasNotificationAPI {
		return entities.NotificationCapability{
			Supported:          true,
			Strategy:           entities.StrategyRealtimeOnly,
			RequiresPermission: true,
			Family:             ua.Family,
			Description:        "Notification API available without push (limited support)",
		}
	}

	return entities.NotificationCapability{
		Supported:   false,
		Strategy:    entities.StrategyUnsupported,
		Family:      ua.Family,
		Description: "Notifications not supported on this device",
	}
}

// SetupMessage returns the guidance shown next to the notification toggle
func SetupMessage(c entities.NotificationCapability) string {
	if c.Family == entities.DeviceFamilyIOS {
		if c.Strategy == entities.StrategyWebPush {
			return "Enable notifications to receive push alerts on this device."
		}
		return "Install the app to the Home Screen to enable push notifications on iOS."
	}

	switch c.Strategy {
	case entities.StrategyWebPush:
		return `Click "Allow" to enable push notifications for appointments and reminders.`
	case entities.StrategyRealtimeOnly:
		return "Real-time notifications are enabled for live updates."
	default:
		return "Notifications are not supported on your device."
	}
}
