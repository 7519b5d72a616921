package domain

type Platform string

const (
	PLATFORM_CLIMATE    Platform = "climate"
	PLATFORM_LIGHT      Platform = "light"
	PLATFORM_LOCK       Platform = "lock"
	PLATFORM_SWITCH     Platform = "switch"
	PLATFORM_HUMIDIFIER Platform = "humidifier"
	PLATFORM_FAN        Platform = "fan"
)

// ALL_PLATFORMS is the fixed order used for registration and teardown.
var ALL_PLATFORMS = []Platform{
	PLATFORM_CLIMATE,
	PLATFORM_LIGHT,
	PLATFORM_LOCK,
	PLATFORM_SWITCH,
	PLATFORM_HUMIDIFIER,
	PLATFORM_FAN,
}

func (p Platform) String() string {
	return string(p)
}

// ConfKey is the option key holding the enable flag of the platform.
func (p Platform) ConfKey() string {
	return string(p)
}

func IsPlatform(key string) bool {
	for _, p := range ALL_PLATFORMS {
		if p.ConfKey() == key {
			return true
		}
	}
	return false
}
