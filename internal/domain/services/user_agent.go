package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

// UserAgentInfo is what can be read out of a user agent string
type UserAgentInfo struct {
	Family     entities.DeviceFamily
	Browser    string
	IOSVersion int
}

var iosVersionPattern = regexp.MustCompile(`os (\d+)[_.]`)

// ParseUserAgent classifies a user agent string
func ParseUserAgent(userAgent string) UserAgentInfo {
	ua := strings.ToLower(userAgent)
	info := UserAgentInfo{
		Family:  detectFamily(ua),
		Browser: detectBrowser(ua),
	}
	if info.Family == entities.DeviceFamilyIOS {
		if m := iosVersionPattern.FindStringSubmatch(ua); m != nil {
			info.IOSVersion, _ = strconv.Atoi(m[1])
		}
	}
	return info
}

// detectFamily determines the device family from a lowercased user agent
func detectFamily(ua string) entities.DeviceFamily {
	if strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod") {
		return entities.DeviceFamilyIOS
	}
	if strings.Contains(ua, "android") {
		return entities.DeviceFamilyAndroid
	}
	return entities.DeviceFamilyDesktop
}

// detectBrowser determines the browser from a lowercased user agent
func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "edge"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox") || strings.Contains(ua, "fxios"):
		return "firefox"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "unknown"
	}
}
