// Package anomaly scores login attempts with a frozen reconstruction-error
// model (min-max normalizer, dense autoencoder and an IP frequency table).
package anomaly

import (
	"math"
	"time"
)

// Feature indexes, in the order the model was trained on
const (
	FeatureLatitude = iota
	FeatureLongitude
	FeatureTypingSpeed
	FeaturePointerSpeed
	FeatureGeoVelocity
	FeatureLoginHour
	FeatureNetworkAddressFrequency

	FeatureCount
)

// FeatureNames maps feature indexes to the column names used in the artifacts
var FeatureNames = [FeatureCount]string{
	"latitude",
	"longitude",
	"typing_speed",
	"mouse_speed",
	"geo_velocity",
	"login_hour",
	"ip_frequency",
}

// FeatureVector is one model input row. NaN marks a missing value.
type FeatureVector [FeatureCount]float64

// FeatureInput is the raw material for a FeatureVector.
// A nil speed means the client did not send it.
type FeatureInput struct {
	Latitude       float64
	Longitude      float64
	TypingSpeed    *float64
	PointerSpeed   *float64
	GeoVelocity    float64
	Timestamp      time.Time
	NetworkAddress string
}

// BuildFeatureVector assembles the feature row. The login hour is taken from
// the UTC timestamp and the address frequency from the table.
func BuildFeatureVector(in FeatureInput, freq *FrequencyTable) FeatureVector {
	var v FeatureVector

	v[FeatureLatitude] = in.Latitude
	v[FeatureLongitude] = in.Longitude
	v[FeatureTypingSpeed] = optional(in.TypingSpeed)
	v[FeaturePointerSpeed] = optional(in.PointerSpeed)
	v[FeatureGeoVelocity] = in.GeoVelocity
	v[FeatureLoginHour] = float64(in.Timestamp.UTC().Hour())
	v[FeatureNetworkAddressFrequency] = freq.Lookup(in.NetworkAddress)

	return v
}

func optional(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	if *f < 0 {
		return 0
	}
	return *f
}

// Missing reports whether a feature value must be imputed
func Missing(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
