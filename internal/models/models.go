package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a coordinate with a human-readable address, as delivered in
// ride offers.
type Place struct {
	Coord
	Address string `json:"address"`
}

// RideStatus progresses forward through the lifecycle except for forced
// resets back to idle (rejection, cancellation, taken by another driver).
type RideStatus string

const (
	StatusIdle      RideStatus = "idle"
	StatusOnTheWay  RideStatus = "onTheWay"
	StatusAccepted  RideStatus = "accepted"
	StatusStarted   RideStatus = "started"
	StatusCompleted RideStatus = "completed"
)

// Active reports whether the status represents an owned, in-progress ride.
func (s RideStatus) Active() bool {
	return s == StatusAccepted || s == StatusStarted
}

type Presence string

const (
	PresenceOffline Presence = "offline"
	PresenceOnline  Presence = "online"
	PresenceOnRide  Presence = "onRide"
)

// Ride is one transport job as offered to (and possibly owned by) the
// driver. OTP may arrive after the offer via a separate event; an empty
// OTP blocks the started transition.
type Ride struct {
	RideID      string  `json:"rideId"`
	RaidID      string  `json:"raidId,omitempty"`
	OTP         string  `json:"otp,omitempty"`
	Pickup      Place   `json:"pickup"`
	Drop        Place   `json:"drop"`
	Fare        float64 `json:"fare"` // per-km rate estimate from the server
	Distance    string  `json:"distance"`
	VehicleType string  `json:"vehicleType"`
	UserName    string  `json:"userName"`
	UserMobile  string  `json:"userMobile"`
	UserID      string  `json:"userId,omitempty"`
	RouteCoords []Coord `json:"routeCoords,omitempty"`
}

// WorkingHoursTimer mirrors the server-authoritative shift countdown. The
// server wins on every field at every poll.
type WorkingHoursTimer struct {
	Active           bool   `json:"active"`
	RemainingSeconds int    `json:"remainingSeconds"`
	FormattedTime    string `json:"formattedTime"`
	WarningsIssued   int    `json:"warningsIssued"`
	WalletDeducted   bool   `json:"walletDeducted"`
	TotalHours       int    `json:"totalHours"`
}

// Warning is a server-pushed working-hours threshold warning (1h/30m/10m).
type Warning struct {
	Number        int    `json:"warningNumber"`
	Message       string `json:"message"`
	RemainingTime string `json:"remainingTime"`
}

// RideSnapshot is the persisted projection of in-flight ride state, written
// while a ride is accepted or started and restored once at session init.
// Never persisted with a completed status.
type RideSnapshot struct {
	Ride             *Ride      `json:"ride"`
	Status           RideStatus `json:"rideStatus"`
	Presence         Presence   `json:"driverStatus"`
	TravelledKm      float64    `json:"travelledKm"`
	DistanceSinceOTP float64    `json:"distanceSinceOtp"`
	Anchor           *Coord     `json:"otpVerificationLocation,omitempty"`
	PassengerLoc     *Coord     `json:"userLocation,omitempty"`
	LastCoord        *Coord     `json:"lastCoord,omitempty"`
	FullRoute        []Coord    `json:"fullRouteCoords,omitempty"`
	VisibleRoute     []Coord    `json:"visibleRouteCoords,omitempty"`
	DetailsVisible   bool       `json:"riderDetailsVisible"`
	SavedAt          time.Time  `json:"savedAt"`
}

// DriverLocation is the outbound location payload shared by the HTTP API,
// the realtime channel, and the telemetry publisher.
type DriverLocation struct {
	DriverID    string    `json:"driverId"`
	DriverName  string    `json:"driverName"`
	Lat         float64   `json:"latitude"`
	Lon         float64   `json:"longitude"`
	VehicleType string    `json:"vehicleType"`
	Status      string    `json:"status"`
	RideID      string    `json:"rideId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CompletedTrip is the journal record written when a ride finishes. FareKm
// is the straight-line anchor-to-drop distance used for the fare; TravelledKm
// is the cumulative tracked path. The two diverge and both are recorded.
type CompletedTrip struct {
	RideID      string    `json:"rideId"`
	DriverID    string    `json:"driverId"`
	UserID      string    `json:"userId"`
	FareKm      float64   `json:"fareKm"`
	TravelledKm float64   `json:"travelledKm"`
	Fare        int       `json:"fare"`
	Anchor      Coord     `json:"actualPickup"`
	Drop        Coord     `json:"actualDrop"`
	CompletedAt time.Time `json:"completedAt"`
}

// BillDetails is what the UI shows in the bill modal after completion.
type BillDetails struct {
	Distance   string `json:"distance"`
	TravelTime string `json:"travelTime"`
	Charge     int    `json:"charge"`
	UserName   string `json:"userName"`
	UserMobile string `json:"userMobile"`
	BaseFare   int    `json:"baseFare"`
	TimeCharge int    `json:"timeCharge"`
	Tax        int    `json:"tax"`
}
