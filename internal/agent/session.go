// Package agent composes the ride machine, working-hours controller,
// realtime adapter, and platform API into one driver session with a
// small imperative surface: go online, go offline, feed locations,
// log out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/hours"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/realtime"
	"github.com/example/driver-agent/internal/ride"
	"github.com/example/driver-agent/internal/session"
	"github.com/example/driver-agent/internal/telemetry"
)

var (
	// ErrConfirmationRequired means going offline needs the driver to
	// acknowledge the unused extension fee first.
	ErrConfirmationRequired = errors.New("offline confirmation required")
	// ErrBadConfirmation means the typed confirmation code did not match.
	ErrBadConfirmation = errors.New("confirmation code mismatch")
)

// Session is the top-level driver session. One per process.
type Session struct {
	DriverID string

	Machine *ride.Machine
	Hours   *hours.Controller
	Adapter *realtime.Adapter
	Channel realtime.Channel

	API       *api.Client
	Store     session.Store
	Telemetry telemetry.Publisher

	Notifier *notify.Registry
	Log      *slog.Logger

	// LocationSendEvery controls which fixes also go to the HTTP API;
	// every fix still feeds the machine and the channel.
	LocationSendEvery int

	mu       sync.Mutex
	fixCount int
	// pendingOnline marks an online intent that could not complete yet
	// because no GPS fix has arrived; the first fix retries it.
	pendingOnline bool
}

// Init restores persisted state at startup: a snapshot of an in-flight
// ride, and the online intent flag from the previous run.
func (s *Session) Init(ctx context.Context) error {
	restored, err := s.Machine.Restore(ctx)
	if err != nil {
		s.Log.Warn("snapshot restore failed", "error", err)
	}
	if restored {
		s.Log.Info("restored in-flight ride from snapshot")
	}

	intent, err := s.Store.GetFlag(ctx, session.FlagOnlineIntent)
	if err != nil {
		return err
	}
	if intent == string(models.PresenceOnline) || intent == string(models.PresenceOnRide) || restored {
		if err := s.goOnline(ctx); err != nil {
			s.mu.Lock()
			s.pendingOnline = true
			s.mu.Unlock()
			s.Log.Info("online resume deferred until first location fix", "error", err)
		}
	}
	return nil
}

// Online brings the driver on duty: connects the channel, registers,
// starts the working-hours timer, and persists the intent so a restart
// resumes online.
func (s *Session) Online(ctx context.Context) error {
	if err := s.goOnline(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingOnline = false
	s.mu.Unlock()
	if err := s.Store.SetFlag(ctx, session.FlagOnlineIntent, string(models.PresenceOnline)); err != nil {
		s.Log.Warn("online intent persist failed", "error", err)
	}
	return nil
}

func (s *Session) goOnline(ctx context.Context) error {
	if err := s.Machine.Online(); err != nil {
		return err
	}
	if err := s.Channel.Connect(ctx); err != nil {
		s.Log.Warn("channel connect failed, will retry on next location fix", "error", err)
	}
	// fail-open: driver stays online even if the timer API is down
	s.Hours.Start(ctx)
	return nil
}

// ConfirmationCode is what the driver must type to go offline while an
// extension fee has been charged this shift: the last four characters of
// the driver id.
func (s *Session) ConfirmationCode() string {
	id := s.DriverID
	if len(id) <= 4 {
		return id
	}
	return id[len(id)-4:]
}

// Offline takes the driver off duty. Refused while a ride is active.
// While the shift carries a charged extension fee, the first call
// returns ErrConfirmationRequired and the caller must retry with the
// confirmation code.
func (s *Session) Offline(ctx context.Context, confirmation string) error {
	if s.Machine.Status().Active() {
		return ride.ErrOfflineBlocked
	}
	s.mu.Lock()
	s.pendingOnline = false
	s.mu.Unlock()
	if s.Hours.WalletDeducted() {
		if confirmation == "" {
			return ErrConfirmationRequired
		}
		if confirmation != s.ConfirmationCode() {
			return ErrBadConfirmation
		}
	}

	s.Hours.Stop(ctx)
	s.Adapter.AnnounceOffline()
	if err := s.Machine.Offline(); err != nil {
		return err
	}
	if err := s.Channel.Close(); err != nil {
		s.Log.Debug("channel close failed", "error", err)
	}
	if err := s.Store.SetFlag(ctx, session.FlagOnlineIntent, string(models.PresenceOffline)); err != nil {
		s.Log.Warn("offline intent persist failed", "error", err)
	}
	return nil
}

// ForceOffline is the working-hours auto-stop path: no confirmation, no
// active-ride check on presence (the ride itself is left untouched for
// the driver to finish out of band).
func (s *Session) ForceOffline(ctx context.Context) {
	s.mu.Lock()
	s.pendingOnline = false
	s.mu.Unlock()
	s.Machine.ForceOffline()
	s.Hours.HandleAutoStop()
	s.Adapter.AnnounceOffline()
	if err := s.Channel.Close(); err != nil {
		s.Log.Debug("channel close failed", "error", err)
	}
	if err := s.Store.SetFlag(ctx, session.FlagOnlineIntent, string(models.PresenceOffline)); err != nil {
		s.Log.Warn("offline intent persist failed", "error", err)
	}
	s.Notifier.Publish(notify.EventForcedOffline, nil)
	s.Log.Info("working hours exhausted, driver forced offline")
}

// Logout ends the session entirely. Refused while a ride is in progress.
func (s *Session) Logout(ctx context.Context) error {
	if s.Machine.Status().Active() {
		return ride.ErrRideActive
	}
	if s.Machine.Presence() != models.PresenceOffline {
		if err := s.Offline(ctx, s.ConfirmationCode()); err != nil {
			return fmt.Errorf("going offline before logout: %w", err)
		}
	}
	if err := s.API.Logout(ctx); err != nil {
		s.Log.Warn("server logout failed, clearing local session anyway", "error", err)
	}
	if err := s.Store.ClearAll(ctx); err != nil {
		return err
	}
	s.Machine.Close()
	return nil
}

// UpdateLocation fans one GPS fix out to every consumer: the ride
// machine always, the realtime channel while connected, the HTTP API on
// every Nth fix, and the telemetry stream best-effort.
func (s *Session) UpdateLocation(ctx context.Context, loc models.Coord) {
	s.Machine.LocationUpdate(ctx, loc)

	s.mu.Lock()
	retry := s.pendingOnline
	s.mu.Unlock()
	if retry {
		if err := s.goOnline(ctx); err != nil {
			s.Log.Warn("deferred online resume failed", "error", err)
		} else {
			s.mu.Lock()
			s.pendingOnline = false
			s.mu.Unlock()
		}
	}

	if s.Machine.Presence() == models.PresenceOffline {
		return
	}

	if !s.Channel.Connected() {
		if err := s.Channel.Connect(ctx); err != nil {
			s.Log.Debug("channel reconnect failed", "error", err)
		}
	}
	s.Adapter.BroadcastLocation(loc)

	s.mu.Lock()
	s.fixCount++
	every := s.LocationSendEvery
	if every <= 0 {
		every = 3
	}
	sendHTTP := s.fixCount%every == 0
	s.mu.Unlock()

	d := s.driverLocation(loc)
	if sendHTTP {
		if err := s.API.UpdateLocation(ctx, d); err != nil {
			s.Log.Debug("location api update failed", "error", err)
		}
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.PublishLocation(d); err != nil {
			s.Log.Debug("telemetry publish failed", "error", err)
		}
	}
}

func (s *Session) driverLocation(loc models.Coord) models.DriverLocation {
	d := models.DriverLocation{
		DriverID:    s.DriverID,
		DriverName:  s.Adapter.DriverName,
		Lat:         loc.Lat,
		Lon:         loc.Lon,
		VehicleType: s.Adapter.VehicleType,
		Status:      "Live",
	}
	if r, ok := s.Machine.CurrentRide(); ok && s.Machine.Status().Active() {
		d.Status = string(models.PresenceOnRide)
		d.RideID = r.RideID
	}
	return d
}

// RegisterPushToken registers the push token with the server. On
// failure the token is kept locally and retried on the next call.
func (s *Session) RegisterPushToken(ctx context.Context, token, platform string) error {
	if err := s.Store.SetFlag(ctx, session.FlagPushToken, token); err != nil {
		s.Log.Warn("push token local save failed", "error", err)
	}
	if err := s.API.UpdatePushToken(ctx, s.DriverID, token, platform); err != nil {
		s.Log.Warn("push token registration failed, kept locally", "error", err)
		return err
	}
	return nil
}

// Close shuts down background work without touching server-side state.
func (s *Session) Close() {
	s.Machine.Close()
	if err := s.Channel.Close(); err != nil {
		s.Log.Debug("channel close failed", "error", err)
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.Close(); err != nil {
			s.Log.Debug("telemetry close failed", "error", err)
		}
	}
}
