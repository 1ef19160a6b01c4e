package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/hours"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/realtime"
	"github.com/example/driver-agent/internal/ride"
	"github.com/example/driver-agent/internal/session"
)

type fakeChannel struct {
	mu        sync.Mutex
	events    []string
	connected bool
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Reconnect(ctx context.Context) error { return f.Connect(ctx) }

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeChannel) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

// testBackend fakes the platform HTTP API with a live timer whose
// walletDeducted flag is switchable per test.
type testBackend struct {
	mu             sync.Mutex
	walletDeducted bool
	locationPosts  int
	logouts        int
}

func (b *testBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/driver/working-hours/status/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		deducted := b.walletDeducted
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "timerActive": true, "remainingSeconds": 3600,
			"formattedTime": "01:00:00", "walletDeducted": deducted,
		})
	})
	mux.HandleFunc("/driver-location/update", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.locationPosts++
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/drivers/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.logouts++
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	return mux
}

func testSession(t *testing.T) (*Session, *fakeChannel, *testBackend) {
	t.Helper()
	return testSessionWithID(t, "driver-1234")
}

func testSessionWithID(t *testing.T, driverID string) (*Session, *fakeChannel, *testBackend) {
	t.Helper()
	backend := &testBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	apiClient := api.NewClient(srv.URL, "")
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ch := &fakeChannel{}
	notifier := notify.NewRegistry()
	machine := ride.NewMachine(driverID, "Ravi", "taxi", ride.Deps{
		Emitter:  ch,
		Store:    store,
		Notifier: notifier,
		Logger:   logging.Discard(),
	})
	t.Cleanup(machine.Close)

	timer := hours.NewController(driverID, apiClient, notifier, logging.Discard())
	adapter := &realtime.Adapter{
		DriverID:    driverID,
		DriverName:  "Ravi",
		VehicleType: "TAXI",
		Machine:     machine,
		Hours:       timer,
		Notifier:    notifier,
		Log:         logging.Discard(),
	}
	adapter.Bind(ch)

	sess := &Session{
		DriverID:          driverID,
		Machine:           machine,
		Hours:             timer,
		Adapter:           adapter,
		Channel:           ch,
		API:               apiClient,
		Store:             store,
		Notifier:          notifier,
		Log:               logging.Discard(),
		LocationSendEvery: 3,
	}
	adapter.Presence = sess
	return sess, ch, backend
}

func TestConfirmationCode(t *testing.T) {
	s := &Session{DriverID: "driver-1234"}
	assert.Equal(t, "1234", s.ConfirmationCode())
	s.DriverID = "ab"
	assert.Equal(t, "ab", s.ConfirmationCode())
}

func TestOfflineWithoutFeeNeedsNoConfirmation(t *testing.T) {
	sess, ch, _ := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	require.NoError(t, sess.Offline(ctx, ""))
	assert.Equal(t, models.PresenceOffline, sess.Machine.Presence())
	assert.Equal(t, 1, ch.count("driverOffline"))
	assert.False(t, ch.Connected())
}

func TestOfflineConfirmationFlow(t *testing.T) {
	sess, _, backend := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	backend.mu.Lock()
	backend.walletDeducted = true
	backend.mu.Unlock()
	sess.Hours.Refresh(ctx)
	require.True(t, sess.Hours.WalletDeducted())

	assert.ErrorIs(t, sess.Offline(ctx, ""), ErrConfirmationRequired)
	assert.ErrorIs(t, sess.Offline(ctx, "9999"), ErrBadConfirmation)
	assert.Equal(t, models.PresenceOnline, sess.Machine.Presence())

	require.NoError(t, sess.Offline(ctx, "1234"))
	assert.Equal(t, models.PresenceOffline, sess.Machine.Presence())
}

func TestOfflineConfirmationIsCaseSensitive(t *testing.T) {
	sess, _, backend := testSessionWithID(t, "driver-AbCd")
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	backend.mu.Lock()
	backend.walletDeducted = true
	backend.mu.Unlock()
	sess.Hours.Refresh(ctx)
	require.True(t, sess.Hours.WalletDeducted())

	assert.ErrorIs(t, sess.Offline(ctx, "ABCD"), ErrBadConfirmation)
	assert.ErrorIs(t, sess.Offline(ctx, "abcd"), ErrBadConfirmation)
	assert.Equal(t, models.PresenceOnline, sess.Machine.Presence())

	require.NoError(t, sess.Offline(ctx, "AbCd"))
	assert.Equal(t, models.PresenceOffline, sess.Machine.Presence())
}

func TestInitResumesOnlineAfterFirstFix(t *testing.T) {
	sess, ch, _ := testSession(t)
	ctx := context.Background()
	require.NoError(t, sess.Store.SetFlag(ctx, session.FlagOnlineIntent, string(models.PresenceOnline)))

	// no GPS fix yet, so the resume has to wait
	require.NoError(t, sess.Init(ctx))
	assert.Equal(t, models.PresenceOffline, sess.Machine.Presence())
	assert.False(t, ch.Connected())

	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	assert.Equal(t, models.PresenceOnline, sess.Machine.Presence())
	assert.True(t, ch.Connected())

	sess.UpdateLocation(ctx, models.Coord{Lat: 12.971, Lon: 77.591})
	assert.GreaterOrEqual(t, ch.count("driverLocationUpdate"), 1)
}

func TestInitRestoresMidRideAndTimer(t *testing.T) {
	sess, ch, _ := testSession(t)
	ctx := context.Background()
	require.NoError(t, sess.Store.SaveSnapshot(ctx, &models.RideSnapshot{
		Ride:      &models.Ride{RideID: "r1", VehicleType: "TAXI"},
		Status:    models.StatusAccepted,
		Presence:  models.PresenceOnRide,
		LastCoord: &models.Coord{Lat: 12.97, Lon: 77.59},
	}))

	require.NoError(t, sess.Init(ctx))

	// the snapshot's coordinate is enough to go straight back online
	assert.Equal(t, models.PresenceOnRide, sess.Machine.Presence())
	assert.True(t, ch.Connected())
	assert.True(t, sess.Hours.Timer().Active)

	loc, ok := sess.Machine.Location()
	require.True(t, ok)
	assert.InDelta(t, 12.97, loc.Lat, 0.0001)
}

func TestOfflineBlockedDuringRide(t *testing.T) {
	sess, _, _ := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	sess.Machine.OfferReceived(models.Ride{RideID: "r1", VehicleType: "TAXI"})
	require.NoError(t, sess.Machine.Accept(ctx))

	assert.ErrorIs(t, sess.Offline(ctx, ""), ride.ErrOfflineBlocked)
	assert.ErrorIs(t, sess.Logout(ctx), ride.ErrRideActive)
}

func TestForceOfflineLeavesRideUntouched(t *testing.T) {
	sess, ch, _ := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))
	sess.Machine.OfferReceived(models.Ride{RideID: "r1", VehicleType: "TAXI"})
	require.NoError(t, sess.Machine.Accept(ctx))

	var forced bool
	sess.Notifier.Subscribe(notify.EventForcedOffline, func(any) { forced = true })

	sess.ForceOffline(ctx)
	assert.Equal(t, models.PresenceOffline, sess.Machine.Presence())
	assert.Equal(t, models.StatusAccepted, sess.Machine.Status())
	assert.True(t, forced)
	assert.Equal(t, 1, ch.count("driverOffline"))
}

func TestLocationFanOutEveryThirdFix(t *testing.T) {
	sess, ch, backend := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	for i := 0; i < 6; i++ {
		sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	}

	backend.mu.Lock()
	posts := backend.locationPosts
	backend.mu.Unlock()
	// fixes 1-7: the pre-online fix does not count, 6/3 = 2 HTTP posts
	assert.Equal(t, 2, posts)
	assert.Equal(t, 6, ch.count("driverLocationUpdate"))
}

func TestLocationNotBroadcastWhileOffline(t *testing.T) {
	sess, ch, backend := testSession(t)
	ctx := context.Background()

	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	assert.Equal(t, 0, ch.count("driverLocationUpdate"))
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 0, backend.locationPosts)
}

func TestLogoutClearsSession(t *testing.T) {
	sess, _, backend := testSession(t)
	ctx := context.Background()
	sess.UpdateLocation(ctx, models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, sess.Online(ctx))

	require.NoError(t, sess.Logout(ctx))
	backend.mu.Lock()
	assert.Equal(t, 1, backend.logouts)
	backend.mu.Unlock()

	v, err := sess.Store.GetFlag(ctx, session.FlagOnlineIntent)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestPushTokenKeptLocallyOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "driver not found"})
	}))
	t.Cleanup(srv.Close)

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sess := &Session{
		DriverID: "driver-1234",
		API:      api.NewClient(srv.URL, ""),
		Store:    store,
		Log:      logging.Discard(),
	}

	err = sess.RegisterPushToken(context.Background(), "tok-1", "android")
	require.Error(t, err)
	v, _ := store.GetFlag(context.Background(), session.FlagPushToken)
	assert.Equal(t, "tok-1", v)
}
