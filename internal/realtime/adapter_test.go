package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/hours"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/ride"
)

type fakeChannel struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeChannel) Connect(ctx context.Context) error   { return nil }
func (f *fakeChannel) Close() error                        { return nil }
func (f *fakeChannel) Connected() bool                     { return true }
func (f *fakeChannel) Reconnect(ctx context.Context) error { return nil }

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

type fakeTimerAPI struct{}

func (fakeTimerAPI) StartTimer(ctx context.Context, driverID string) error { return nil }
func (fakeTimerAPI) StopTimer(ctx context.Context, driverID string) error  { return nil }
func (fakeTimerAPI) FetchTimerStatus(ctx context.Context, driverID string) (api.TimerStatus, error) {
	return api.TimerStatus{}, nil
}
func (fakeTimerAPI) PurchaseExtension(ctx context.Context, driverID string, additionalHours int) (api.ExtendResult, error) {
	return api.ExtendResult{}, nil
}
func (fakeTimerAPI) SkipWarning(ctx context.Context, driverID string) error { return nil }

type fakePresence struct{ forced int }

func (p *fakePresence) ForceOffline(ctx context.Context) { p.forced++ }

func testAdapter(t *testing.T) (*Adapter, *fakeChannel, *ride.Machine, *fakePresence) {
	t.Helper()
	ch := &fakeChannel{}
	machine := ride.NewMachine("driver-1234", "Ravi", "taxi", ride.Deps{
		Emitter: ch,
		Logger:  logging.Discard(),
	})
	t.Cleanup(machine.Close)
	timer := hours.NewController("driver-1234", fakeTimerAPI{}, notify.NewRegistry(), logging.Discard())
	presence := &fakePresence{}
	a := &Adapter{
		DriverID:    "driver-1234",
		DriverName:  "Ravi",
		VehicleType: "TAXI",
		Machine:     machine,
		Hours:       timer,
		Presence:    presence,
		Notifier:    notify.NewRegistry(),
		Log:         logging.Discard(),
	}
	a.Bind(ch)
	return a, ch, machine, presence
}

func online(t *testing.T, m *ride.Machine) {
	t.Helper()
	m.LocationUpdate(context.Background(), models.Coord{Lat: 12.97, Lon: 77.59})
	require.NoError(t, m.Online())
}

func TestRegistrationSkippedWithoutLocation(t *testing.T) {
	a, ch, _, _ := testAdapter(t)
	a.HandleConnect(context.Background())
	assert.False(t, a.Registered())
	assert.Equal(t, 0, ch.count(EmitRegisterDriver))
}

func TestRegistrationOnConnect(t *testing.T) {
	a, ch, m, _ := testAdapter(t)
	online(t, m)

	a.HandleConnect(context.Background())
	assert.True(t, a.Registered())
	assert.Equal(t, 1, ch.count(EmitRegisterDriver))
	assert.Equal(t, 1, ch.count(EmitDriverLocation))

	a.HandleDisconnect(nil)
	assert.False(t, a.Registered())
}

func TestOfferEventReachesMachine(t *testing.T) {
	a, _, m, _ := testAdapter(t)
	online(t, m)

	// pickup as an object with string numerics, drop as embedded JSON text
	payload := []byte(`{
		"rideId": "r1",
		"otp": "0042",
		"pickup": {"lat": "12.9716", "lng": "77.5946", "address": "MG Road"},
		"drop": "{\"latitude\": 12.9352, \"longitude\": 77.6245}",
		"fare": "15",
		"vehicleType": "TAXI"
	}`)
	a.HandleEvent(context.Background(), EventNewRideRequest, payload)

	require.Equal(t, models.StatusOnTheWay, m.Status())
	r, ok := m.CurrentRide()
	require.True(t, ok)
	assert.Equal(t, "0042", r.OTP)
	assert.InDelta(t, 12.9716, r.Pickup.Lat, 1e-9)
	assert.InDelta(t, 77.6245, r.Drop.Lon, 1e-9)
	assert.Equal(t, float64(15), r.Fare)
	assert.Equal(t, "Unknown location", r.Drop.Address)
	assert.Equal(t, "Customer", r.UserName)
}

func TestMalformedOfferDropped(t *testing.T) {
	a, _, m, _ := testAdapter(t)
	online(t, m)

	a.HandleEvent(context.Background(), EventNewRideRequest, []byte(`{"pickup": 7}`))
	a.HandleEvent(context.Background(), EventNewRideRequest, []byte(`not json`))
	assert.Equal(t, models.StatusIdle, m.Status())
}

func TestTakenSignalsAreEquivalent(t *testing.T) {
	for _, event := range []string{EventRideAlreadyTaken, EventRideTakenByDriver} {
		a, _, m, _ := testAdapter(t)
		online(t, m)
		m.OfferReceived(models.Ride{RideID: "r1", VehicleType: "TAXI"})
		require.Equal(t, models.StatusOnTheWay, m.Status())

		a.HandleEvent(context.Background(), event, []byte(`{"rideId":"r1","driverId":"driver-9999"}`))
		assert.Equal(t, models.StatusIdle, m.Status(), event)
	}
}

func TestOTPAssignmentEvent(t *testing.T) {
	a, _, m, _ := testAdapter(t)
	online(t, m)
	m.OfferReceived(models.Ride{RideID: "r1", VehicleType: "TAXI"})

	a.HandleEvent(context.Background(), EventRideOTP, []byte(`{"rideId":"r1","otp":"0099"}`))
	r, _ := m.CurrentRide()
	assert.Equal(t, "0099", r.OTP)
}

func TestWarningEventReachesController(t *testing.T) {
	a, _, _, _ := testAdapter(t)

	a.HandleEvent(context.Background(), EventHoursWarning,
		[]byte(`{"warningNumber":"2","message":"30 minutes left","remainingSeconds":1800}`))

	w, showing := a.Hours.CurrentWarning()
	require.True(t, showing)
	assert.Equal(t, 2, w.Number)
	assert.Equal(t, "00:30:00", w.RemainingTime)
}

func TestAutoStopEventForcesOffline(t *testing.T) {
	a, _, _, p := testAdapter(t)
	a.HandleEvent(context.Background(), EventHoursAutoStop, nil)
	assert.Equal(t, 1, p.forced)
}

func TestUnknownEventIgnored(t *testing.T) {
	a, _, m, _ := testAdapter(t)
	a.HandleEvent(context.Background(), "somethingNew", []byte(`{}`))
	assert.Equal(t, models.StatusIdle, m.Status())
}

func TestPassengerLocationEvent(t *testing.T) {
	a, _, m, _ := testAdapter(t)
	online(t, m)
	m.OfferReceived(models.Ride{RideID: "r1", VehicleType: "TAXI"})

	a.HandleEvent(context.Background(), EventUserLiveLocation, []byte(`{"lat":"12.95","lng":"77.60"}`))
	// no direct accessor; the update must not panic or change the lifecycle
	assert.Equal(t, models.StatusOnTheWay, m.Status())
}

func TestDecodePlaceVariants(t *testing.T) {
	p, err := decodePlace(json.RawMessage(`{"latitude": 1.5, "longitude": 2.5, "address": "X"}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, p.Lat)
	assert.Equal(t, "X", p.Address)

	p, err = decodePlace(json.RawMessage(`"{\"lat\": \"3.5\", \"lng\": \"4.5\"}"`))
	require.NoError(t, err)
	assert.Equal(t, 3.5, p.Lat)
	assert.Equal(t, 4.5, p.Lon)
	assert.Equal(t, "Unknown location", p.Address)
}
