package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

// GetDeviceTrust retrieves the trust record for a (user, device) pair.
func (r *SQLRepository) GetDeviceTrust(ctx context.Context, userID, deviceKey string) (*domain.DeviceTrustRecord, error) {
	if userID == "" || deviceKey == "" {
		return nil, fmt.Errorf("%w: userId and deviceKey are required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, device_key, trust_score, trust_level,
		       manually_trusted, manually_risky, failed_login_count,
		       last_ip, last_user_agent, last_country, last_city,
		       last_lat, last_lng, has_geo, last_login_at,
		       created_at, updated_at
		FROM device_trust
		WHERE user_id = ? AND device_key = ?
	`

	var rec domain.DeviceTrustRecord
	var level string
	var manTrusted, manRisky, hasGeo int
	var lastIP, lastUA, lastCountry, lastCity sql.NullString
	var lastLoginAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, deviceKey).Scan(
		&rec.ID, &rec.UserID, &rec.DeviceKey, &rec.TrustScore, &level,
		&manTrusted, &manRisky, &rec.FailedLoginCount,
		&lastIP, &lastUA, &lastCountry, &lastCity,
		&rec.LastLat, &rec.LastLng, &hasGeo, &lastLoginAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.TrustLevel = domain.TrustLevel(level)
	rec.ManuallyTrusted = manTrusted == 1
	rec.ManuallyRisky = manRisky == 1
	rec.HasGeo = hasGeo == 1
	rec.LastIP = lastIP.String
	rec.LastUserAgent = lastUA.String
	rec.LastCountry = lastCountry.String
	rec.LastCity = lastCity.String
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		rec.LastLoginAt = &t
	}

	return &rec, nil
}

// SaveDeviceTrust upserts a trust record keyed by (user_id, device_key).
// The caller serializes writes per key, so last-write-wins here is safe.
func (r *SQLRepository) SaveDeviceTrust(ctx context.Context, rec *domain.DeviceTrustRecord) error {
	if rec.UserID == "" || rec.DeviceKey == "" {
		return fmt.Errorf("%w: userId and deviceKey are required", domain.ErrInvalidInput)
	}

	var lastLoginAt any
	if rec.LastLoginAt != nil {
		lastLoginAt = *rec.LastLoginAt
	}

	query := `
		INSERT INTO device_trust (
			id, user_id, device_key, trust_score, trust_level,
			manually_trusted, manually_risky, failed_login_count,
			last_ip, last_user_agent, last_country, last_city,
			last_lat, last_lng, has_geo, last_login_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_key) DO UPDATE SET
			trust_score = excluded.trust_score,
			trust_level = excluded.trust_level,
			manually_trusted = excluded.manually_trusted,
			manually_risky = excluded.manually_risky,
			failed_login_count = excluded.failed_login_count,
			last_ip = excluded.last_ip,
			last_user_agent = excluded.last_user_agent,
			last_country = excluded.last_country,
			last_city = excluded.last_city,
			last_lat = excluded.last_lat,
			last_lng = excluded.last_lng,
			has_geo = excluded.has_geo,
			last_login_at = excluded.last_login_at,
			updated_at = excluded.updated_at
	`

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.UserID, rec.DeviceKey, rec.TrustScore, string(rec.TrustLevel),
		boolToInt(rec.ManuallyTrusted), boolToInt(rec.ManuallyRisky), rec.FailedLoginCount,
		rec.LastIP, rec.LastUserAgent, rec.LastCountry, rec.LastCity,
		rec.LastLat, rec.LastLng, boolToInt(rec.HasGeo), lastLoginAt,
		rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}
