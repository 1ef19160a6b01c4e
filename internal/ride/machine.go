// Package ride implements the driver-side ride lifecycle state machine:
// offer intake, accept/reject races, OTP verification, route tracking,
// fare finalization, and snapshot persistence. The machine is plain state
// plus transition methods; it knows nothing about rendering.
package ride

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/journal"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/observability"
	"github.com/example/driver-agent/internal/routing"
	"github.com/example/driver-agent/internal/session"
)

// Outbound realtime events emitted by the machine.
const (
	EmitAcceptRide         = "acceptRide"
	EmitRejectRide         = "rejectRide"
	EmitRideTakenByDriver  = "rideTakenByDriver"
	EmitDriverAcceptedRide = "driverAcceptedRide"
	EmitGetUserData        = "getUserDataForDriver"
	EmitOTPVerified        = "otpVerified"
	EmitDriverStartedRide  = "driverStartedRide"
	EmitRideStatusUpdate   = "rideStatusUpdate"
	EmitDriverCompleted    = "driverCompletedRide"
	EmitDriverCancelled    = "driverRideCancelled"
)

// defaultRatePerKm is the fallback per-km rate when an offer carries no
// fare estimate.
const defaultRatePerKm = 15

// Emitter is the outbound half of the realtime channel. Reconnect exists
// only for the accept retry path, which forces a reconnect before its
// single retry.
type Emitter interface {
	Emit(event string, payload any) error
	Reconnect(ctx context.Context) error
}

// FareCollector optionally captures the finalized fare at bill
// confirmation. Best-effort: errors never block cleanup.
type FareCollector interface {
	Collect(ctx context.Context, rideID string, amount int64) error
}

// Machine drives a single ride from offer to completion and owns the
// driver's presence. All transitions for a ride are serialized behind one
// mutex; inbound events and user actions never interleave mid-transition.
type Machine struct {
	DriverID    string
	DriverName  string
	VehicleType string

	PassengerPollInterval time.Duration

	emitter  Emitter
	routes   routing.Client
	store    session.Store
	journal  journal.Journal
	collect  FareCollector
	notifier *notify.Registry
	log      *slog.Logger

	guard *actionGuard

	mu               sync.Mutex
	presence         models.Presence
	status           models.RideStatus
	ride             *models.Ride
	location         *models.Coord
	lastCoord        *models.Coord
	passengerLoc     *models.Coord
	anchor           *models.Coord
	travelledKm      float64
	distanceSinceOTP float64
	fullRoute        []models.Coord
	visibleRoute     []models.Coord
	detailsVisible   bool
	bill             *models.BillDetails
	pollCancel       context.CancelFunc
}

type Deps struct {
	Emitter   Emitter
	Routes    routing.Client
	Store     session.Store
	Journal   journal.Journal
	Collector FareCollector
	Notifier  *notify.Registry
	Logger    *slog.Logger
}

func NewMachine(driverID, driverName, vehicleType string, deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewRegistry()
	}
	return &Machine{
		DriverID:              driverID,
		DriverName:            driverName,
		VehicleType:           strings.ToUpper(vehicleType),
		PassengerPollInterval: 10 * time.Second,
		emitter:               deps.Emitter,
		routes:                deps.Routes,
		store:                 deps.Store,
		journal:               deps.Journal,
		collect:               deps.Collector,
		notifier:              deps.Notifier,
		log:                   deps.Logger,
		guard:                 newActionGuard(0),
		presence:              models.PresenceOffline,
		status:                models.StatusIdle,
	}
}

func (m *Machine) Status() models.RideStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) Presence() models.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presence
}

// CurrentRide returns a copy of the ride in progress, if any.
func (m *Machine) CurrentRide() (models.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ride == nil {
		return models.Ride{}, false
	}
	return *m.ride, true
}

func (m *Machine) Location() (models.Coord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.location == nil {
		return models.Coord{}, false
	}
	return *m.location, true
}

func (m *Machine) Bill() (models.BillDetails, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bill == nil {
		return models.BillDetails{}, false
	}
	return *m.bill, true
}

// VisibleRoute returns the remaining polyline ahead of the vehicle.
func (m *Machine) VisibleRoute() []models.Coord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Coord, len(m.visibleRoute))
	copy(out, m.visibleRoute)
	return out
}

// Online moves presence to online. Requires a known location.
func (m *Machine) Online() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.location == nil {
		return ErrNoLocation
	}
	if m.status.Active() {
		m.presence = models.PresenceOnRide
	} else {
		m.presence = models.PresenceOnline
	}
	observability.DriverOnline.Set(1)
	return nil
}

// Offline moves presence to offline. Refused while a ride is active; the
// forced auto-stop path uses ForceOffline instead.
func (m *Machine) Offline() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Active() {
		return ErrOfflineBlocked
	}
	m.presence = models.PresenceOffline
	observability.DriverOnline.Set(0)
	return nil
}

// ForceOffline is the working-hours auto-stop path: presence drops to
// offline unconditionally. An active ride is deliberately left untouched.
func (m *Machine) ForceOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = models.PresenceOffline
	observability.DriverOnline.Set(0)
}

// OfferReceived handles an inbound ride offer. Discards silently when the
// driver is offline, when a ride is already active, or when the required
// vehicle type does not match the driver's registered type.
func (m *Machine) OfferReceived(offer models.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	observability.OffersReceived.Inc()

	if m.presence == models.PresenceOffline {
		observability.OffersDiscarded.WithLabelValues("offline").Inc()
		return
	}
	if m.status.Active() {
		observability.OffersDiscarded.WithLabelValues("activeRide").Inc()
		return
	}
	want := strings.ToUpper(strings.TrimSpace(offer.VehicleType))
	if want != "" && m.VehicleType != "" && want != m.VehicleType {
		observability.OffersDiscarded.WithLabelValues("vehicleType").Inc()
		m.log.Debug("ignoring offer for other vehicle type", "rideId", offer.RideID, "want", want, "have", m.VehicleType)
		return
	}

	r := offer
	m.ride = &r
	m.status = models.StatusOnTheWay
	m.notifier.Publish(notify.EventOffer, r)
}

// Accept claims the pending offer. Emission failure forces one channel
// reconnect and a single retry; a second failure reverts the transition.
// The pickup route is fetched after the transition commits, outside the
// lock, so route acquisition never stalls inbound event processing.
func (m *Machine) Accept(ctx context.Context) error {
	token, ok := m.guard.begin("accept")
	if !ok {
		return ErrActionInFlight
	}
	defer m.guard.end("accept", token)

	m.mu.Lock()
	if m.presence == models.PresenceOffline {
		m.mu.Unlock()
		return ErrNotOnline
	}
	if m.status != models.StatusOnTheWay || m.ride == nil {
		m.mu.Unlock()
		return ErrNotOnTheWay
	}

	payload := map[string]any{
		"rideId":     m.ride.RideID,
		"driverId":   m.DriverID,
		"driverName": m.DriverName,
	}
	if err := m.emitWithRetry(ctx, EmitAcceptRide, payload); err != nil {
		m.mu.Unlock()
		return err
	}

	m.status = models.StatusAccepted
	m.presence = models.PresenceOnRide
	m.detailsVisible = true
	observability.RidesAccepted.Inc()

	// Peer drivers displaying the same offer discard it on this broadcast.
	m.emit(EmitRideTakenByDriver, payload)
	m.emit(EmitDriverAcceptedRide, map[string]any{
		"rideId":         m.ride.RideID,
		"driverId":       m.DriverID,
		"userId":         m.ride.UserID,
		"driverLocation": m.location,
	})
	m.emit(EmitGetUserData, map[string]any{"rideId": m.ride.RideID})
	m.startPassengerPollLocked(m.ride.RideID)
	m.persistLocked(ctx)

	rideID := m.ride.RideID
	pickup := m.ride.Pickup.Coord
	var from models.Coord
	fetch := m.location != nil
	if fetch {
		from = *m.location
	}
	m.mu.Unlock()

	if fetch {
		coords := routing.RouteOrFallback(ctx, m.routes, from, pickup)
		m.mu.Lock()
		if m.ride != nil && m.ride.RideID == rideID && m.status.Active() {
			m.ride.RouteCoords = coords
			m.persistLocked(ctx)
		}
		m.mu.Unlock()
	}
	return nil
}

// Reject declines the pending offer. Idempotent against duplicate rapid
// taps: the second invocation finds no pending offer and emits nothing.
func (m *Machine) Reject(ctx context.Context) error {
	token, ok := m.guard.begin("reject")
	if !ok {
		return ErrActionInFlight
	}
	defer m.guard.end("reject", token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != models.StatusOnTheWay || m.ride == nil {
		return ErrNotOnTheWay
	}
	rideID := m.ride.RideID
	m.releaseRideLocked()
	m.emit(EmitRejectRide, map[string]any{"rideId": rideID, "driverId": m.DriverID})
	observability.RidesRejected.Inc()
	m.clearSnapshotLocked(ctx)
	return nil
}

// VerifyOTP attempts the accepted→started transition. The entered code
// must equal the server-assigned OTP exactly, leading zeros included. On
// mismatch no state changes. On success the current location becomes the
// fare-distance anchor and trip accumulators reset to zero. The
// anchor→drop route is fetched outside the lock after the transition
// commits.
func (m *Machine) VerifyOTP(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.status != models.StatusAccepted || m.ride == nil {
		m.mu.Unlock()
		return ErrNoActiveRide
	}
	if m.ride.OTP == "" {
		m.mu.Unlock()
		return ErrOTPNotAssigned
	}
	if code != m.ride.OTP {
		m.mu.Unlock()
		return ErrOTPMismatch
	}

	start := m.location
	if start == nil {
		start = m.lastCoord
	}
	if start == nil {
		m.mu.Unlock()
		return ErrNoLocation
	}

	m.status = models.StatusStarted
	anchor := *start
	m.anchor = &anchor
	m.travelledKm = 0
	m.distanceSinceOTP = 0

	ts := time.Now().UTC().Format(time.RFC3339)
	m.emit(EmitOTPVerified, map[string]any{
		"rideId": m.ride.RideID, "driverId": m.DriverID, "userId": m.ride.UserID,
		"timestamp": ts, "driverLocation": anchor,
	})
	m.emit(EmitDriverStartedRide, map[string]any{
		"rideId": m.ride.RideID, "driverId": m.DriverID, "userId": m.ride.UserID,
		"driverLocation": anchor, "otpVerified": true, "timestamp": ts,
	})
	m.emit(EmitRideStatusUpdate, map[string]any{
		"rideId": m.ride.RideID, "status": string(models.StatusStarted),
		"otpVerified": true, "timestamp": ts,
	})
	m.persistLocked(ctx)

	rideID := m.ride.RideID
	drop := m.ride.Drop.Coord
	m.mu.Unlock()

	coords := routing.RouteOrFallback(ctx, m.routes, anchor, drop)
	m.mu.Lock()
	if m.ride != nil && m.ride.RideID == rideID && m.status == models.StatusStarted {
		m.fullRoute = coords
		m.visibleRoute = coords
		m.persistLocked(ctx)
	}
	m.mu.Unlock()

	m.notifier.Publish(notify.EventRideStarted, rideID)
	return nil
}

// Complete finalizes the trip. The billable distance is the straight-line
// anchor-to-current haversine with a 0.1 km floor, multiplied by the
// offer's per-km rate and rounded to the nearest currency unit. The
// server's canonical fare may differ; this figure is the driver-side view.
func (m *Machine) Complete(ctx context.Context) error {
	token, ok := m.guard.begin("complete")
	if !ok {
		return ErrActionInFlight
	}
	defer m.guard.end("complete", token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != models.StatusStarted {
		return ErrNotStarted
	}
	if m.ride == nil || m.location == nil {
		return ErrNoLocation
	}

	anchor := m.ride.Pickup.Coord
	if m.anchor != nil {
		anchor = *m.anchor
	}
	fareKm, fare := FinalFare(anchor, *m.location, m.ride.Fare)

	m.emit(EmitDriverCompleted, map[string]any{
		"rideId":       m.ride.RideID,
		"driverId":     m.DriverID,
		"userId":       m.ride.UserID,
		"distance":     fareKm,
		"fare":         fare,
		"actualPickup": anchor,
		"actualDrop":   *m.location,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})

	m.status = models.StatusCompleted
	m.stopPassengerPollLocked()
	m.bill = buildBill(fareKm, fare, m.ride)
	observability.RidesCompleted.Inc()

	if m.journal != nil {
		trip := &models.CompletedTrip{
			RideID:      m.ride.RideID,
			DriverID:    m.DriverID,
			UserID:      m.ride.UserID,
			FareKm:      fareKm,
			TravelledKm: m.travelledKm,
			Fare:        fare,
			Anchor:      anchor,
			Drop:        *m.location,
			CompletedAt: time.Now(),
		}
		if err := m.journal.Record(ctx, trip); err != nil {
			m.log.Warn("trip journal write failed", "rideId", trip.RideID, "error", err)
		}
	}
	m.notifier.Publish(notify.EventBillReady, *m.bill)
	return nil
}

// BillConfirmed is the terminal cleanup after the driver dismisses the
// bill: optional fare capture, full state reset, snapshot cleared.
func (m *Machine) BillConfirmed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != models.StatusCompleted {
		return ErrNoActiveRide
	}
	if m.collect != nil && m.bill != nil {
		if err := m.collect.Collect(ctx, m.ride.RideID, int64(m.bill.Charge)); err != nil {
			m.log.Warn("fare capture failed", "rideId", m.ride.RideID, "error", err)
		}
	}
	m.releaseRideLocked()
	m.clearSnapshotLocked(ctx)
	return nil
}

// RideCancelled handles a passenger/server cancellation push. Events for
// other rides are ignored.
func (m *Machine) RideCancelled(ctx context.Context, rideID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ride == nil || m.ride.RideID != rideID {
		return
	}
	m.emit(EmitDriverCancelled, map[string]any{
		"rideId": rideID, "driverId": m.DriverID, "userId": m.ride.UserID,
	})
	m.releaseRideLocked()
	m.clearSnapshotLocked(ctx)
	observability.RidesCancelled.Inc()
	m.notifier.Publish(notify.EventRideCancelled, rideID)
}

// RideTakenElsewhere handles both "ride already accepted" and "ride taken
// by driver" pushes, which are equivalent discard signals. The notice is suppressed
// when this driver is the actor (the winner must not see a "taken" toast).
func (m *Machine) RideTakenElsewhere(ctx context.Context, rideID, actorDriverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if actorDriverID == m.DriverID {
		return
	}
	if m.ride != nil && m.ride.RideID == rideID {
		m.releaseRideLocked()
		m.clearSnapshotLocked(ctx)
	}
	m.notifier.Publish(notify.EventRideTaken, rideID)
}

// OTPAssigned records a late-arriving OTP for the displayed ride.
func (m *Machine) OTPAssigned(ctx context.Context, rideID, otp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ride == nil || m.ride.RideID != rideID {
		return
	}
	m.ride.OTP = otp
	if m.status.Active() {
		m.persistLocked(ctx)
	}
}

// PassengerLocation records a pushed passenger position.
func (m *Machine) PassengerLocation(loc models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ride == nil {
		return
	}
	l := loc
	m.passengerLoc = &l
}

// PassengerIdentified fills in the passenger user id from a
// userDataForDriver response.
func (m *Machine) PassengerIdentified(userID string, loc *models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ride == nil {
		return
	}
	if userID != "" && m.ride.UserID == "" {
		m.ride.UserID = userID
	}
	if loc != nil {
		l := *loc
		m.passengerLoc = &l
	}
}

// LocationUpdate ingests a driver location fix: accumulates trip distance
// while a ride is active, advances the visible route, and persists the
// snapshot on ride-relevant mutation.
func (m *Machine) LocationUpdate(ctx context.Context, loc models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastCoord != nil && m.status.Active() {
		km := geo.Haversine(*m.lastCoord, loc) / 1000
		m.travelledKm += km
		if m.status == models.StatusStarted && m.anchor != nil {
			m.distanceSinceOTP += km
		}
	}
	l := loc
	m.location = &l
	m.lastCoord = &l

	if m.status == models.StatusStarted && len(m.fullRoute) > 0 {
		m.visibleRoute = geo.RemainingRoute(loc, m.fullRoute)
	}
	if m.status.Active() {
		m.persistLocked(ctx)
	}
}

// SetDetailsVisible tracks the rider-details panel flag so it survives a
// restart with the rest of the snapshot.
func (m *Machine) SetDetailsVisible(ctx context.Context, visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailsVisible = visible
	if m.status.Active() {
		m.persistLocked(ctx)
	}
}

// Restore loads the persisted snapshot at session initialization. A
// completed ride must not resurrect: its snapshot is cleared and nothing
// is restored. Only accepted/started rides come back.
func (m *Machine) Restore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	snap, err := m.store.LoadSnapshot(ctx)
	if err != nil || snap == nil {
		return false, err
	}
	if snap.Status == models.StatusCompleted || snap.Ride == nil || !snap.Status.Active() {
		return false, m.store.ClearSnapshot(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ride = snap.Ride
	m.status = snap.Status
	m.presence = snap.Presence
	m.travelledKm = snap.TravelledKm
	m.distanceSinceOTP = snap.DistanceSinceOTP
	m.anchor = snap.Anchor
	m.passengerLoc = snap.PassengerLoc
	// seed the location so online and fare paths work before the first
	// fresh fix arrives
	m.location = snap.LastCoord
	m.lastCoord = snap.LastCoord
	m.fullRoute = snap.FullRoute
	m.visibleRoute = snap.VisibleRoute
	m.detailsVisible = snap.DetailsVisible
	if m.status.Active() {
		m.startPassengerPollLocked(m.ride.RideID)
	}
	return true, nil
}

// TravelledKm is the cumulative tracked path distance for the current
// ride. Display only; the fare uses the anchor distance instead.
func (m *Machine) TravelledKm() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.travelledKm
}

// Close stops background work owned by the machine.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPassengerPollLocked()
}

// releaseRideLocked drops every per-ride resource: route buffers,
// passenger location, accumulators, anchor, bill.
func (m *Machine) releaseRideLocked() {
	m.stopPassengerPollLocked()
	m.ride = nil
	m.bill = nil
	m.status = models.StatusIdle
	if m.presence == models.PresenceOnRide {
		m.presence = models.PresenceOnline
	}
	m.passengerLoc = nil
	m.anchor = nil
	m.travelledKm = 0
	m.distanceSinceOTP = 0
	m.fullRoute = nil
	m.visibleRoute = nil
	m.detailsVisible = false
}

func (m *Machine) startPassengerPollLocked(rideID string) {
	m.stopPassengerPollLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.pollCancel = cancel
	interval := m.PassengerPollInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				active := m.ride != nil && m.ride.RideID == rideID && m.status.Active()
				if active {
					m.emit(EmitGetUserData, map[string]any{"rideId": rideID})
				}
				m.mu.Unlock()
				if !active {
					return
				}
			}
		}
	}()
}

func (m *Machine) stopPassengerPollLocked() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

func (m *Machine) persistLocked(ctx context.Context) {
	if m.store == nil || m.ride == nil || !m.status.Active() {
		return
	}
	snap := &models.RideSnapshot{
		Ride:             m.ride,
		Status:           m.status,
		Presence:         m.presence,
		TravelledKm:      m.travelledKm,
		DistanceSinceOTP: m.distanceSinceOTP,
		Anchor:           m.anchor,
		PassengerLoc:     m.passengerLoc,
		LastCoord:        m.lastCoord,
		FullRoute:        m.fullRoute,
		VisibleRoute:     m.visibleRoute,
		DetailsVisible:   m.detailsVisible,
	}
	if err := m.store.SaveSnapshot(ctx, snap); err != nil {
		m.log.Warn("snapshot save failed", "error", err)
		return
	}
	observability.SnapshotWrites.Inc()
}

func (m *Machine) clearSnapshotLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.ClearSnapshot(ctx); err != nil {
		m.log.Warn("snapshot clear failed", "error", err)
	}
}

// emit is best-effort: a failed send is logged, the server reconciles via
// its own pushes.
func (m *Machine) emit(event string, payload any) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.Emit(event, payload); err != nil {
		m.log.Warn("emit failed", "event", event, "error", err)
	}
}

// emitWithRetry forces one reconnect and retries once. Used only by the
// accept path, which must not silently drop.
func (m *Machine) emitWithRetry(ctx context.Context, event string, payload any) error {
	if m.emitter == nil {
		return ErrNotOnline
	}
	err := m.emitter.Emit(event, payload)
	if err == nil {
		return nil
	}
	m.log.Warn("emit failed, forcing reconnect", "event", event, "error", err)
	if rerr := m.emitter.Reconnect(ctx); rerr != nil {
		return rerr
	}
	return m.emitter.Emit(event, payload)
}
