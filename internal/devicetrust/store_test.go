package devicetrust

import (
	"context"
	"fmt"
	"testing"

	"github.com/ledgerline/peregrine/internal/domain"
)

type memRepo struct {
	domain.Repository
	records map[string]*domain.DeviceTrustRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*domain.DeviceTrustRecord)}
}

func (m *memRepo) GetDeviceTrust(ctx context.Context, userID, deviceKey string) (*domain.DeviceTrustRecord, error) {
	rec, ok := m.records[userID+"/"+deviceKey]
	if !ok {
		return nil, fmt.Errorf("%w: device trust record", domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *memRepo) SaveDeviceTrust(ctx context.Context, rec *domain.DeviceTrustRecord) error {
	cp := *rec
	m.records[rec.UserID+"/"+rec.DeviceKey] = &cp
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newMemRepo(), domain.DefaultConfig().DeviceTrust, nil)
}

func TestGetOrCreateNewDevice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.GetOrCreate(ctx, "user-1", "device-a")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if rec.TrustScore != 50 {
		t.Errorf("new device score = %d, want 50", rec.TrustScore)
	}
	if rec.TrustLevel != domain.TrustNeutral {
		t.Errorf("new device level = %s, want neutral", rec.TrustLevel)
	}

	again, err := store.GetOrCreate(ctx, "user-1", "device-a")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again.ID != rec.ID {
		t.Error("GetOrCreate created a second record for the same pair")
	}
}

func TestGetUnseenDeviceReturnsNil(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get(context.Background(), "user-1", "never-seen")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for unseen device, got %+v", rec)
	}
}

func TestConsecutiveFailedLogins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var rec *domain.DeviceTrustRecord
	var err error
	for i := 0; i < 3; i++ {
		rec, err = store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: false})
		if err != nil {
			t.Fatalf("RecordSignal failed: %v", err)
		}
	}

	if rec.FailedLoginCount != 3 {
		t.Errorf("failedLoginCount = %d, want 3", rec.FailedLoginCount)
	}
	if rec.TrustScore != 20 {
		t.Errorf("score after 3 failures = %d, want 20", rec.TrustScore)
	}
	if rec.TrustLevel != domain.TrustRisky {
		t.Errorf("level = %s, want risky", rec.TrustLevel)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var rec *domain.DeviceTrustRecord
	var err error
	for i := 0; i < 8; i++ {
		rec, err = store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: false})
		if err != nil {
			t.Fatalf("RecordSignal failed: %v", err)
		}
	}
	if rec.TrustScore != 0 {
		t.Errorf("score = %d, want clamp at 0", rec.TrustScore)
	}
}

func TestSuccessResetsFailedCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: false})
	store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: false})

	rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: true})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	if rec.FailedLoginCount != 0 {
		t.Errorf("failedLoginCount = %d, want reset to 0", rec.FailedLoginCount)
	}
	if rec.TrustScore != 32 {
		t.Errorf("score = %d, want 32 (50 - 10 - 10 + 2)", rec.TrustScore)
	}
}

func TestIPAndUserAgentChangePenalties(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
		IP:           "10.0.0.1",
		UserAgent:    "agent-1",
		LoginSuccess: true,
	})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	if rec.TrustScore != 52 {
		t.Fatalf("score after first success = %d, want 52", rec.TrustScore)
	}
	if rec.LastIP != "10.0.0.1" {
		t.Fatalf("baseline IP not persisted: %q", rec.LastIP)
	}

	rec, err = store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
		IP:           "10.0.0.99",
		UserAgent:    "agent-2",
		LoginSuccess: true,
	})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	// 52 + 2 success - 5 IP change - 3 UA change
	if rec.TrustScore != 46 {
		t.Errorf("score after origin change = %d, want 46", rec.TrustScore)
	}
	if rec.LastIP != "10.0.0.99" {
		t.Errorf("successful login should move the baseline, got %q", rec.LastIP)
	}
}

func TestFailedLoginDoesNotMoveBaseline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
		IP:           "10.0.0.1",
		LoginSuccess: true,
	})

	rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
		IP:           "203.0.113.5",
		LoginSuccess: false,
	})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	if rec.LastIP != "10.0.0.1" {
		t.Errorf("failed login moved the baseline IP to %q", rec.LastIP)
	}
}

func TestGeoDriftPenalties(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Establish a geo baseline in London.
	london := &domain.GeoPoint{Country: "GB", City: "London", Lat: 51.5074, Lng: -0.1278}
	rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
		Geo:          london,
		LoginSuccess: true,
	})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	base := rec.TrustScore

	t.Run("FarDrift", func(t *testing.T) {
		// New York is well over 500km from London.
		rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
			Geo:          &domain.GeoPoint{Country: "US", City: "New York", Lat: 40.7128, Lng: -74.0060},
			LoginSuccess: true,
		})
		if err != nil {
			t.Fatalf("RecordSignal failed: %v", err)
		}
		want := base + 2 - 15
		if rec.TrustScore != want {
			t.Errorf("score after far drift = %d, want %d", rec.TrustScore, want)
		}
		base = rec.TrustScore
	})

	t.Run("NearDrift", func(t *testing.T) {
		// Philadelphia is roughly 130km from New York.
		rec, err := store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{
			Geo:          &domain.GeoPoint{Country: "US", City: "Philadelphia", Lat: 39.9526, Lng: -75.1652},
			LoginSuccess: true,
		})
		if err != nil {
			t.Fatalf("RecordSignal failed: %v", err)
		}
		want := base + 2 - 5
		if rec.TrustScore != want {
			t.Errorf("score after near drift = %d, want %d", rec.TrustScore, want)
		}
	})
}

func TestManuallyRiskyWinsOverSuccesses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "user-1", "device-a"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	rec, err := store.SetManualOverride(ctx, "user-1", "device-a", false, true)
	if err != nil {
		t.Fatalf("SetManualOverride failed: %v", err)
	}
	if rec.TrustScore > 30 || rec.TrustLevel != domain.TrustRisky {
		t.Fatalf("override not applied: score=%d level=%s", rec.TrustScore, rec.TrustLevel)
	}

	for i := 0; i < 20; i++ {
		rec, err = store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: true})
		if err != nil {
			t.Fatalf("RecordSignal failed: %v", err)
		}
	}
	if rec.TrustScore > 30 {
		t.Errorf("manually risky device climbed to %d, want <= 30", rec.TrustScore)
	}
	if rec.TrustLevel != domain.TrustRisky {
		t.Errorf("level = %s, want risky", rec.TrustLevel)
	}
}

func TestManuallyTrustedFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.GetOrCreate(ctx, "user-1", "device-a")
	rec, err := store.SetManualOverride(ctx, "user-1", "device-a", true, false)
	if err != nil {
		t.Fatalf("SetManualOverride failed: %v", err)
	}
	if rec.TrustScore < 80 {
		t.Fatalf("trusted floor not applied: score=%d", rec.TrustScore)
	}

	rec, err = store.RecordSignal(ctx, "user-1", "device-a", domain.DeviceSignal{LoginSuccess: false})
	if err != nil {
		t.Fatalf("RecordSignal failed: %v", err)
	}
	if rec.TrustScore < 80 {
		t.Errorf("failed login dropped a manually trusted device to %d", rec.TrustScore)
	}
	if rec.TrustLevel != domain.TrustTrusted {
		t.Errorf("level = %s, want trusted", rec.TrustLevel)
	}
}

func TestConflictingOverridesRejected(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SetManualOverride(context.Background(), "u", "d", true, true); err == nil {
		t.Error("expected error for trusted+risky override")
	}
}

func TestHaversine(t *testing.T) {
	// London to Paris is about 344km.
	d := haversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	if d < 330 || d > 360 {
		t.Errorf("London-Paris distance = %.1fkm, want ~344km", d)
	}
	if haversineKm(10, 20, 10, 20) != 0 {
		t.Error("identical points should be 0km apart")
	}
}
