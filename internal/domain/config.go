package domain

import "time"

// Config holds the complete Peregrine configuration.
type Config struct {
	// Scoring thresholds for the risk checks and level derivation. All
	// thresholds live here as configuration, never as literals in callers.
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// DeviceTrust holds the trust score thresholds and adjustments.
	DeviceTrust TrustConfig `json:"deviceTrust" yaml:"device_trust"`

	// Engine holds evaluation concurrency and retry settings.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ScoringConfig holds every threshold used by the built-in checks and the
// score-to-level mapping.
type ScoringConfig struct {
	// HighValue check. The threshold is currency-blind: raw amounts are
	// compared across currencies without FX normalization, a known
	// limitation inherited from the upstream policy.
	HighValueThreshold float64 `json:"highValueThreshold" yaml:"high_value_threshold"`
	HighValueMaxScore  float64 `json:"highValueMaxScore" yaml:"high_value_max_score"`

	// RapidTransfers check.
	RapidWindowMinutes int     `json:"rapidWindowMinutes" yaml:"rapid_window_minutes"`
	RapidCountMin      int64   `json:"rapidCountMin" yaml:"rapid_count_min"`
	RapidScore         float64 `json:"rapidScore" yaml:"rapid_score"`

	// VelocityAnomaly check.
	SpendSpikeMultiplier float64 `json:"spendSpikeMultiplier" yaml:"spend_spike_multiplier"`
	SpendSpikeScore      float64 `json:"spendSpikeScore" yaml:"spend_spike_score"`
	HourlyCountMax       int64   `json:"hourlyCountMax" yaml:"hourly_count_max"`
	HourlyCountScore     float64 `json:"hourlyCountScore" yaml:"hourly_count_score"`

	// Device check.
	NewDeviceScore       float64 `json:"newDeviceScore" yaml:"new_device_score"`
	UntrustedDeviceScore float64 `json:"untrustedDeviceScore" yaml:"untrusted_device_score"`
	RecentDeviceScore    float64 `json:"recentDeviceScore" yaml:"recent_device_score"`
	RecentDeviceAgeHours int     `json:"recentDeviceAgeHours" yaml:"recent_device_age_hours"`

	// Score-to-level mapping and flagging.
	MediumThreshold   float64 `json:"mediumThreshold" yaml:"medium_threshold"`
	AutoFlagThreshold float64 `json:"autoFlagThreshold" yaml:"auto_flag_threshold"`
	CriticalThreshold float64 `json:"criticalThreshold" yaml:"critical_threshold"`

	// Factors scoring at or above this cutoff make up the flag reason.
	CriticalFactorCutoff float64 `json:"criticalFactorCutoff" yaml:"critical_factor_cutoff"`
}

// LevelFor maps a risk score to its level bucket.
func (s ScoringConfig) LevelFor(score float64) RiskLevel {
	switch {
	case score >= s.CriticalThreshold:
		return RiskLevelCritical
	case score >= s.AutoFlagThreshold:
		return RiskLevelHigh
	case score >= s.MediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// TrustConfig holds the device trust scoring parameters.
type TrustConfig struct {
	InitialScore int `json:"initialScore" yaml:"initial_score"`

	// Level thresholds: score >= TrustedMin is trusted, <= RiskyMax is
	// risky, everything between is neutral.
	TrustedMin int `json:"trustedMin" yaml:"trusted_min"`
	RiskyMax   int `json:"riskyMax" yaml:"risky_max"`

	// Manual override clamps. A manually trusted device never scores
	// below ManualTrustFloor; a manually risky one never above
	// ManualRiskyCeiling.
	ManualTrustFloor   int `json:"manualTrustFloor" yaml:"manual_trust_floor"`
	ManualRiskyCeiling int `json:"manualRiskyCeiling" yaml:"manual_risky_ceiling"`

	// Signal adjustments.
	FailedLoginPenalty int `json:"failedLoginPenalty" yaml:"failed_login_penalty"`
	SuccessLoginBonus  int `json:"successLoginBonus" yaml:"success_login_bonus"`
	IPChangePenalty    int `json:"ipChangePenalty" yaml:"ip_change_penalty"`
	UAChangePenalty    int `json:"uaChangePenalty" yaml:"ua_change_penalty"`

	// Geo drift penalties by great-circle distance.
	GeoFarKm          float64 `json:"geoFarKm" yaml:"geo_far_km"`
	GeoFarPenalty     int     `json:"geoFarPenalty" yaml:"geo_far_penalty"`
	GeoNearKm         float64 `json:"geoNearKm" yaml:"geo_near_km"`
	GeoNearPenalty    int     `json:"geoNearPenalty" yaml:"geo_near_penalty"`
}

// LevelFor maps a trust score to its level bucket.
func (t TrustConfig) LevelFor(score int) TrustLevel {
	switch {
	case score >= t.TrustedMin:
		return TrustTrusted
	case score <= t.RiskyMax:
		return TrustRisky
	default:
		return TrustNeutral
	}
}

// EngineConfig holds evaluation runtime settings.
type EngineConfig struct {
	// MaxConcurrentChecks bounds parallel check execution per call.
	MaxConcurrentChecks int `json:"maxConcurrentChecks" yaml:"max_concurrent_checks"`

	// EvaluateTimeoutSecs bounds a whole Evaluate call, auxiliary
	// fetches included. Exceeding it fails the call closed.
	EvaluateTimeoutSecs int `json:"evaluateTimeoutSecs" yaml:"evaluate_timeout_secs"`

	// CreateRetries bounds re-fetch attempts after a creation conflict.
	CreateRetries int `json:"createRetries" yaml:"create_retries"`

	// VelocityCacheTTLSecs controls how long computed velocity snapshots
	// are served from cache. Zero disables caching.
	VelocityCacheTTLSecs int `json:"velocityCacheTtlSecs" yaml:"velocity_cache_ttl_secs"`
}

// EvaluateTimeout returns the configured evaluation deadline.
func (e EngineConfig) EvaluateTimeout() time.Duration {
	if e.EvaluateTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.EvaluateTimeoutSecs) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// DefaultConfig returns the default configuration: SQLite repository,
// in-process cache and bus, and the standard scoring thresholds.
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			HighValueThreshold:   10000,
			HighValueMaxScore:    30,
			RapidWindowMinutes:   60,
			RapidCountMin:        5,
			RapidScore:           25,
			SpendSpikeMultiplier: 3.0,
			SpendSpikeScore:      35,
			HourlyCountMax:       10,
			HourlyCountScore:     20,
			NewDeviceScore:       25,
			UntrustedDeviceScore: 40,
			RecentDeviceScore:    15,
			RecentDeviceAgeHours: 24,
			MediumThreshold:      35,
			AutoFlagThreshold:    70,
			CriticalThreshold:    90,
			CriticalFactorCutoff: 30,
		},
		DeviceTrust: TrustConfig{
			InitialScore:       50,
			TrustedMin:         70,
			RiskyMax:           30,
			ManualTrustFloor:   80,
			ManualRiskyCeiling: 30,
			FailedLoginPenalty: 10,
			SuccessLoginBonus:  2,
			IPChangePenalty:    5,
			UAChangePenalty:    3,
			GeoFarKm:           500,
			GeoFarPenalty:      15,
			GeoNearKm:          50,
			GeoNearPenalty:     5,
		},
		Engine: EngineConfig{
			MaxConcurrentChecks:  10,
			EvaluateTimeoutSecs:  5,
			CreateRetries:        3,
			VelocityCacheTTLSecs: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./peregrine.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "peregrine",
		},
	}
}
