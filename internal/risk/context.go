package risk

import (
	"math"

	"github.com/BradenHooton/riskauth/internal/models"
)

// Rule weights for contextual changes
const (
	WeightNetworkAddress = 2
	WeightDevice         = 3
	WeightTimezone       = 3
	WeightLocation       = 5
)

// LoginContext is the part of a login compared against the identity's previous login
type LoginContext struct {
	NetworkAddress    string
	DeviceFingerprint string
	Timezone          string
	Coordinates       Coordinates
}

// ContextFromAttempt extracts the comparable context of a stored attempt
func ContextFromAttempt(a *models.LoginAttempt) *LoginContext {
	if a == nil {
		return nil
	}
	return &LoginContext{
		NetworkAddress:    a.NetworkAddress,
		DeviceFingerprint: a.DeviceFingerprint,
		Timezone:          a.Timezone,
		Coordinates:       Coordinates{Latitude: a.Latitude, Longitude: a.Longitude},
	}
}

// ContextChanges is the ordered list of detected changes and their summed weight
type ContextChanges struct {
	Labels []string
	Score  int
}

// Empty reports whether no contextual change was detected
func (c ContextChanges) Empty() bool {
	return len(c.Labels) == 0
}

// ContextChangeDetector compares a login against the identity's last recorded login.
// LocationEpsilon is the per-axis tolerance in degrees; 0 means exact equality.
type ContextChangeDetector struct {
	LocationEpsilon float64
}

// NewContextChangeDetector creates a detector with the given location tolerance
func NewContextChangeDetector(locationEpsilon float64) *ContextChangeDetector {
	if locationEpsilon < 0 || math.IsNaN(locationEpsilon) {
		locationEpsilon = 0
	}
	return &ContextChangeDetector{LocationEpsilon: locationEpsilon}
}

// Detect returns the changes between current and previous. A nil previous
// context (first login) never produces changes.
func (d *ContextChangeDetector) Detect(current LoginContext, previous *LoginContext) ContextChanges {
	changes := ContextChanges{Labels: []string{}}
	if previous == nil {
		return changes
	}

	if previous.NetworkAddress != "" && previous.NetworkAddress != current.NetworkAddress {
		changes.add(models.ChangeNetworkAddress, WeightNetworkAddress)
	}
	if previous.DeviceFingerprint != "" && previous.DeviceFingerprint != current.DeviceFingerprint {
		changes.add(models.ChangeDevice, WeightDevice)
	}
	if previous.Timezone != "" && previous.Timezone != current.Timezone {
		changes.add(models.ChangeTimezone, WeightTimezone)
	}
	if d.locationChanged(current.Coordinates, previous.Coordinates) {
		changes.add(models.ChangeLocation, WeightLocation)
	}

	return changes
}

func (d *ContextChangeDetector) locationChanged(cur, prev Coordinates) bool {
	if d.LocationEpsilon == 0 {
		return cur.Latitude != prev.Latitude || cur.Longitude != prev.Longitude
	}
	return math.Abs(cur.Latitude-prev.Latitude) > d.LocationEpsilon ||
		math.Abs(cur.Longitude-prev.Longitude) > d.LocationEpsilon
}

func (c *ContextChanges) add(label string, weight int) {
	c.Labels = append(c.Labels, label)
	c.Score += weight
}
