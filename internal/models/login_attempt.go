package models

import "time"

// Defaults applied to optional login attempt fields
const (
	DefaultNetworkAddress    = "0.0.0.0"
	DefaultTimezone          = "UTC"
	DefaultDeviceFingerprint = "Unknown"
)

// TimestampPrecision is the finest login time every history backend keeps
const TimestampPrecision = time.Microsecond

// NormalizeTimestamp converts t to the stored form: UTC at TimestampPrecision
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// LoginAttempt represents an allowed login kept in an identity's history.
// Only attempts that received an allow decision are ever persisted.
type LoginAttempt struct {
	ID                string    `db:"id" json:"id"`
	Identity          string    `db:"user_id" json:"user_id"`
	NetworkAddress    string    `db:"ip_address" json:"ip_address"`
	Latitude          float64   `db:"latitude" json:"latitude"`
	Longitude         float64   `db:"longitude" json:"longitude"`
	Timezone          string    `db:"timezone" json:"timezone"`
	DeviceFingerprint string    `db:"device_info" json:"device_info"`
	TypingSpeed       float64   `db:"typing_speed" json:"typing_speed"`
	PointerSpeed      float64   `db:"mouse_speed" json:"mouse_speed"`
	GeoVelocity       float64   `db:"geo_velocity" json:"geo_velocity"`
	Timestamp         time.Time `db:"login_time" json:"login_time"`
}

// ApplyDefaults fills empty optional fields and clamps behavioral metrics
func (a *LoginAttempt) ApplyDefaults() {
	if a.NetworkAddress == "" {
		a.NetworkAddress = DefaultNetworkAddress
	}
	if a.Timezone == "" {
		a.Timezone = DefaultTimezone
	}
	if a.DeviceFingerprint == "" {
		a.DeviceFingerprint = DefaultDeviceFingerprint
	}
	if a.TypingSpeed < 0 {
		a.TypingSpeed = 0
	}
	if a.PointerSpeed < 0 {
		a.PointerSpeed = 0
	}
	if a.GeoVelocity < 0 {
		a.GeoVelocity = 0
	}
}
