package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/hours"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/ride"
)

// Inbound events consumed from the channel.
const (
	EventNewRideRequest    = "newRideRequest"
	EventUserLiveLocation  = "userLiveLocationUpdate"
	EventUserDataForDriver = "userDataForDriver"
	EventRideOTP           = "rideOTP"
	EventRideCancelled     = "rideCancelled"
	EventRideAlreadyTaken  = "rideAlreadyAccepted"
	EventRideTakenByDriver = "rideTakenByDriver"
	EventRideStarted       = "rideStarted"
	EventHoursWarning      = "workingHoursWarning"
	EventHoursAutoStop     = "workingHoursAutoStop"
)

// Outbound events owned by the adapter (the machine owns the ride ones).
const (
	EmitRegisterDriver = "registerDriver"
	EmitDriverLocation = "driverLocationUpdate"
	EmitDriverOffline  = "driverOffline"
)

// PresenceControl is the slice of the driver session the adapter needs
// for the forced auto-stop path.
type PresenceControl interface {
	ForceOffline(ctx context.Context)
}

// Adapter translates inbound realtime events into calls on the ride
// machine and working-hours controller, and manages driver registration
// across reconnects. Events for a given ride arrive from a single read
// loop and are dispatched serially, so per-ride transition ordering holds.
type Adapter struct {
	DriverID    string
	DriverName  string
	VehicleType string

	Machine  *ride.Machine
	Hours    *hours.Controller
	Presence PresenceControl

	Notifier *notify.Registry
	Log      *slog.Logger

	mu         sync.Mutex
	channel    Channel
	registered bool
}

// Bind attaches the channel handle. Explicit, so call sites that run
// before binding fail with ErrDisconnected instead of dereferencing a
// missing global.
func (a *Adapter) Bind(ch Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel = ch
}

// Registered reports whether identity registration succeeded on the
// current connection.
func (a *Adapter) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// HandleConnect re-registers the driver's identity, location, and vehicle
// type. Registration silently no-ops while driverId or location is
// missing; it is retried on the next connect edge instead of erroring.
func (a *Adapter) HandleConnect(ctx context.Context) {
	loc, ok := a.Machine.Location()
	if a.DriverID == "" || !ok {
		a.log().Debug("registration skipped, identity or location missing")
		return
	}
	err := a.emit(EmitRegisterDriver, map[string]any{
		"driverId":    a.DriverID,
		"driverName":  a.DriverName,
		"latitude":    loc.Lat,
		"longitude":   loc.Lon,
		"vehicleType": a.VehicleType,
		"status":      string(a.Machine.Presence()),
	})
	if err != nil {
		a.log().Warn("driver registration failed", "error", err)
		return
	}
	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()

	// initial broadcast; the session keeps it periodic from here
	a.BroadcastLocation(loc)
}

func (a *Adapter) HandleDisconnect(err error) {
	a.mu.Lock()
	a.registered = false
	a.mu.Unlock()
	if _, active := a.Machine.CurrentRide(); active && a.Notifier != nil {
		a.Notifier.Publish(notify.EventConnectionLost, err)
	}
}

// HandleEvent routes one inbound envelope. Unknown events are logged and
// dropped; a malformed payload never aborts the loop.
func (a *Adapter) HandleEvent(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case EventNewRideRequest:
		var p offerPayload
		if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
			a.log().Warn("bad ride offer payload", "error", err)
			return
		}
		offer, err := p.ride()
		if err != nil {
			a.log().Warn("bad offer location payload", "rideId", p.RideID, "error", err)
			return
		}
		a.Machine.OfferReceived(offer)

	case EventUserLiveLocation:
		var p passengerLocPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		a.Machine.PassengerLocation(models.Coord{Lat: float64(p.Lat), Lon: float64(p.Lng)})

	case EventUserDataForDriver:
		var p userDataPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		var loc *models.Coord
		if p.CurrentLocation != nil {
			loc = &models.Coord{Lat: float64(p.CurrentLocation.Latitude), Lon: float64(p.CurrentLocation.Longitude)}
		}
		a.Machine.PassengerIdentified(p.UserID, loc)

	case EventRideOTP:
		var p rideRefPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		a.Machine.OTPAssigned(ctx, p.RideID, p.OTP)

	case EventRideCancelled:
		var p rideRefPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		a.Machine.RideCancelled(ctx, p.RideID)

	case EventRideAlreadyTaken, EventRideTakenByDriver:
		// equivalent discard signals; the machine suppresses the notice
		// when this driver is the actor
		var p rideRefPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		a.Machine.RideTakenElsewhere(ctx, p.RideID, p.DriverID)

	case EventRideStarted:
		var p rideRefPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if a.Notifier != nil {
			a.Notifier.Publish(notify.EventRideStarted, p.RideID)
		}

	case EventHoursWarning:
		var p warningPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		a.Hours.HandleWarning(models.Warning{
			Number:        int(p.WarningNumber),
			Message:       p.Message,
			RemainingTime: hours.FormatHMS(int(p.RemainingSeconds)),
		})

	case EventHoursAutoStop:
		if a.Presence != nil {
			a.Presence.ForceOffline(ctx)
		}

	default:
		a.log().Debug("unhandled event", "event", event)
	}
}

// BroadcastLocation emits the periodic driver position to the channel.
func (a *Adapter) BroadcastLocation(loc models.Coord) {
	status := "Live"
	rideID := ""
	if r, ok := a.Machine.CurrentRide(); ok && a.Machine.Status().Active() {
		status = string(models.PresenceOnRide)
		rideID = r.RideID
	}
	err := a.emit(EmitDriverLocation, models.DriverLocation{
		DriverID:    a.DriverID,
		DriverName:  a.DriverName,
		Lat:         loc.Lat,
		Lon:         loc.Lon,
		VehicleType: a.VehicleType,
		Status:      status,
		RideID:      rideID,
		Timestamp:   time.Now(),
	})
	if err != nil {
		a.log().Debug("location broadcast failed", "error", err)
	}
}

// AnnounceOffline tells the server the driver left, then the caller
// closes the channel.
func (a *Adapter) AnnounceOffline() {
	if err := a.emit(EmitDriverOffline, map[string]any{"driverId": a.DriverID}); err != nil {
		a.log().Debug("offline announce failed", "error", err)
	}
}

func (a *Adapter) emit(event string, payload any) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil {
		return ErrDisconnected
	}
	return ch.Emit(event, payload)
}

func (a *Adapter) log() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}
