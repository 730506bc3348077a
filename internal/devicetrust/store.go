// Package devicetrust maintains per-(user, device) trust scores from login
// signals.
package devicetrust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/syncutil"
)

// Store owns DeviceTrustRecord state. All mutation goes through it;
// the risk engine only reads. Updates to the same (user, device) pair are
// serialized with a per-key lock so the read-modify-write of the score is
// not lost under concurrent signals.
type Store struct {
	repo   domain.Repository
	config domain.TrustConfig
	locks  syncutil.KeyLock
	logger *slog.Logger
}

// NewStore creates a device trust store.
func NewStore(repo domain.Repository, cfg domain.TrustConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		config: cfg,
		logger: logger,
	}
}

// Get returns the trust record for a (user, device) pair, or nil when the
// device has never been seen. Callers use the nil to distinguish a new
// device from an untrusted one.
func (s *Store) Get(ctx context.Context, userID, deviceKey string) (*domain.DeviceTrustRecord, error) {
	if userID == "" || deviceKey == "" {
		return nil, fmt.Errorf("%w: userId and deviceKey are required", domain.ErrInvalidInput)
	}
	rec, err := s.repo.GetDeviceTrust(ctx, userID, deviceKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device trust: %w", err)
	}
	return rec, nil
}

// GetOrCreate returns the trust record for a pair, creating a neutral one
// if none exists.
func (s *Store) GetOrCreate(ctx context.Context, userID, deviceKey string) (*domain.DeviceTrustRecord, error) {
	if userID == "" || deviceKey == "" {
		return nil, fmt.Errorf("%w: userId and deviceKey are required", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(pairKey(userID, deviceKey))
	defer unlock()

	rec, err := s.repo.GetDeviceTrust(ctx, userID, deviceKey)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load device trust: %w", err)
	}

	rec = s.newRecord(userID, deviceKey)
	if err := s.repo.SaveDeviceTrust(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: failed to create device trust record: %v", domain.ErrPersistence, err)
	}
	return rec, nil
}

// RecordSignal applies a login observation to the pair's trust record,
// creating the record if this is the first signal for the pair. The score
// adjustment is a pure function of the prior record and the signal.
func (s *Store) RecordSignal(ctx context.Context, userID, deviceKey string, signal domain.DeviceSignal) (*domain.DeviceTrustRecord, error) {
	if userID == "" || deviceKey == "" {
		return nil, fmt.Errorf("%w: userId and deviceKey are required", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(pairKey(userID, deviceKey))
	defer unlock()

	rec, err := s.repo.GetDeviceTrust(ctx, userID, deviceKey)
	if errors.Is(err, domain.ErrNotFound) {
		rec = s.newRecord(userID, deviceKey)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load device trust: %w", err)
	}

	s.applySignal(rec, signal)

	if err := s.repo.SaveDeviceTrust(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: failed to save device trust record: %v", domain.ErrPersistence, err)
	}

	s.logger.Debug("device signal recorded",
		"user_id", userID,
		"device_key", deviceKey,
		"login_success", signal.LoginSuccess,
		"trust_score", rec.TrustScore,
		"trust_level", rec.TrustLevel,
	)

	return rec, nil
}

// SetManualOverride flips the admin override flags for a pair and
// immediately re-clamps the score so the override takes effect without
// waiting for the next signal. The record must exist.
func (s *Store) SetManualOverride(ctx context.Context, userID, deviceKey string, trusted, risky bool) (*domain.DeviceTrustRecord, error) {
	if trusted && risky {
		return nil, fmt.Errorf("%w: a device cannot be both manually trusted and manually risky", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(pairKey(userID, deviceKey))
	defer unlock()

	rec, err := s.repo.GetDeviceTrust(ctx, userID, deviceKey)
	if err != nil {
		return nil, err
	}

	rec.ManuallyTrusted = trusted
	rec.ManuallyRisky = risky
	rec.TrustScore = s.clampOverrides(rec, rec.TrustScore)
	rec.TrustLevel = s.config.LevelFor(rec.TrustScore)
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveDeviceTrust(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: failed to save device trust record: %v", domain.ErrPersistence, err)
	}
	return rec, nil
}

func (s *Store) newRecord(userID, deviceKey string) *domain.DeviceTrustRecord {
	now := time.Now().UTC()
	return &domain.DeviceTrustRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		DeviceKey:  deviceKey,
		TrustScore: s.config.InitialScore,
		TrustLevel: s.config.LevelFor(s.config.InitialScore),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// applySignal mutates rec in place per the scoring algorithm. Manual
// overrides are re-applied after the computed adjustments so they always
// win, and the baseline (last IP, UA, geo) only moves on successful logins
// so repeated failures from a new origin cannot normalize it.
func (s *Store) applySignal(rec *domain.DeviceTrustRecord, signal domain.DeviceSignal) {
	score := rec.TrustScore

	if signal.LoginSuccess {
		score += s.config.SuccessLoginBonus
		rec.FailedLoginCount = 0
	} else {
		score -= s.config.FailedLoginPenalty
		rec.FailedLoginCount++
	}

	if signal.IP != "" && rec.LastIP != "" && signal.IP != rec.LastIP {
		score -= s.config.IPChangePenalty
	}
	if signal.UserAgent != "" && rec.LastUserAgent != "" && signal.UserAgent != rec.LastUserAgent {
		score -= s.config.UAChangePenalty
	}

	if signal.Geo != nil && rec.HasGeo {
		dist := haversineKm(rec.LastLat, rec.LastLng, signal.Geo.Lat, signal.Geo.Lng)
		switch {
		case dist > s.config.GeoFarKm:
			score -= s.config.GeoFarPenalty
		case dist > s.config.GeoNearKm:
			score -= s.config.GeoNearPenalty
		}
	}

	score = s.clampOverrides(rec, score)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	rec.TrustScore = score
	rec.TrustLevel = s.config.LevelFor(score)

	observedAt := signal.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	if signal.LoginSuccess {
		if signal.IP != "" {
			rec.LastIP = signal.IP
		}
		if signal.UserAgent != "" {
			rec.LastUserAgent = signal.UserAgent
		}
		if signal.Geo != nil {
			rec.LastCountry = signal.Geo.Country
			rec.LastCity = signal.Geo.City
			rec.LastLat = signal.Geo.Lat
			rec.LastLng = signal.Geo.Lng
			rec.HasGeo = true
		}
		rec.LastLoginAt = &observedAt
	}
	rec.UpdatedAt = observedAt
}

func (s *Store) clampOverrides(rec *domain.DeviceTrustRecord, score int) int {
	if rec.ManuallyTrusted && score < s.config.ManualTrustFloor {
		score = s.config.ManualTrustFloor
	}
	if rec.ManuallyRisky && score > s.config.ManualRiskyCeiling {
		score = s.config.ManualRiskyCeiling
	}
	return score
}

func pairKey(userID, deviceKey string) string {
	return userID + "\x00" + deviceKey
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
