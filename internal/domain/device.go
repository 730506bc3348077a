package domain

import "time"

// TrustLevel is the coarse bucket derived from a device trust score.
type TrustLevel string

const (
	TrustTrusted TrustLevel = "trusted"
	TrustNeutral TrustLevel = "neutral"
	TrustRisky   TrustLevel = "risky"
)

// DeviceTrustRecord holds the trust state for one (user, device) pair.
// Exactly one exists per pair. The risk engine only reads these; mutation
// happens through the device trust store on login signals.
type DeviceTrustRecord struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	DeviceKey string `json:"deviceKey"`

	// TrustScore is clamped to [0,100]. New devices start at 50.
	TrustScore int        `json:"trustScore"`
	TrustLevel TrustLevel `json:"trustLevel"`

	// Manual admin overrides. When set they win over every computed
	// signal: trusted floors the score, risky caps it.
	ManuallyTrusted bool `json:"manuallyTrusted"`
	ManuallyRisky   bool `json:"manuallyRisky"`

	FailedLoginCount int `json:"failedLoginCount"`

	// Baseline observed on the last successful login. Failed attempts do
	// not move the baseline, so attackers cannot normalize a new origin.
	LastIP        string     `json:"lastIp,omitempty"`
	LastUserAgent string     `json:"lastUserAgent,omitempty"`
	LastCountry   string     `json:"lastCountry,omitempty"`
	LastCity      string     `json:"lastCity,omitempty"`
	LastLat       float64    `json:"lastLat,omitempty"`
	LastLng       float64    `json:"lastLng,omitempty"`
	HasGeo        bool       `json:"hasGeo"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot captures the record state for embedding in a risk record.
func (d *DeviceTrustRecord) Snapshot() *DeviceSnapshot {
	return &DeviceSnapshot{
		DeviceKey:  d.DeviceKey,
		TrustScore: d.TrustScore,
		TrustLevel: d.TrustLevel,
		Known:      true,
		FirstSeen:  d.CreatedAt,
	}
}

// GeoPoint is a coarse location attached to a login signal.
type GeoPoint struct {
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// DeviceSignal is one login-relevant observation for a (user, device) pair.
type DeviceSignal struct {
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Geo          *GeoPoint `json:"geo,omitempty"`
	LoginSuccess bool      `json:"loginSuccess"`
	ObservedAt   time.Time `json:"observedAt,omitempty"`
}
