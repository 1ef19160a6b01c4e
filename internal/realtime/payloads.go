package realtime

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/example/driver-agent/internal/models"
)

// The server is loose about payload typing: numbers arrive as strings,
// coordinates as lat/lng or latitude/longitude, nested objects sometimes
// as embedded JSON strings. These wrappers absorb all of that.

// flexFloat decodes a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var ff flexFloat
	if err := ff.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexInt(ff)
	return nil
}

// wirePlace accepts both coordinate spellings plus an address.
type wirePlace struct {
	Lat       *flexFloat `json:"lat"`
	Latitude  *flexFloat `json:"latitude"`
	Lng       *flexFloat `json:"lng"`
	Longitude *flexFloat `json:"longitude"`
	Address   string     `json:"address"`
}

func (w wirePlace) place() models.Place {
	p := models.Place{Address: w.Address}
	if p.Address == "" {
		p.Address = "Unknown location"
	}
	switch {
	case w.Lat != nil:
		p.Lat = float64(*w.Lat)
	case w.Latitude != nil:
		p.Lat = float64(*w.Latitude)
	}
	switch {
	case w.Lng != nil:
		p.Lon = float64(*w.Lng)
	case w.Longitude != nil:
		p.Lon = float64(*w.Longitude)
	}
	return p
}

// decodePlace handles a place sent either as an object or as a JSON
// string containing the object.
func decodePlace(raw json.RawMessage) (models.Place, error) {
	var w wirePlace
	if err := json.Unmarshal(raw, &w); err == nil {
		return w.place(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Place{}, err
	}
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return models.Place{}, err
	}
	return w.place(), nil
}

type offerPayload struct {
	RideID      string          `json:"rideId"`
	RaidID      string          `json:"RAID_ID"`
	OTP         string          `json:"otp"`
	Pickup      json.RawMessage `json:"pickup"`
	Drop        json.RawMessage `json:"drop"`
	Fare        flexFloat       `json:"fare"`
	Distance    string          `json:"distance"`
	VehicleType string          `json:"vehicleType"`
	UserName    string          `json:"userName"`
	UserMobile  string          `json:"userMobile"`
}

func (p offerPayload) ride() (models.Ride, error) {
	pickup, err := decodePlace(p.Pickup)
	if err != nil {
		return models.Ride{}, err
	}
	drop, err := decodePlace(p.Drop)
	if err != nil {
		return models.Ride{}, err
	}
	r := models.Ride{
		RideID:      p.RideID,
		RaidID:      p.RaidID,
		OTP:         p.OTP,
		Pickup:      pickup,
		Drop:        drop,
		Fare:        float64(p.Fare),
		Distance:    p.Distance,
		VehicleType: p.VehicleType,
		UserName:    p.UserName,
		UserMobile:  p.UserMobile,
	}
	if r.Distance == "" {
		r.Distance = "0 km"
	}
	if r.UserName == "" {
		r.UserName = "Customer"
	}
	if r.UserMobile == "" {
		r.UserMobile = "N/A"
	}
	return r, nil
}

type rideRefPayload struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
	OTP      string `json:"otp"`
	Message  string `json:"message"`
}

type passengerLocPayload struct {
	Lat flexFloat `json:"lat"`
	Lng flexFloat `json:"lng"`
}

type userDataPayload struct {
	UserID          string `json:"userId"`
	CurrentLocation *struct {
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
	} `json:"userCurrentLocation"`
}

type warningPayload struct {
	WarningNumber    flexInt `json:"warningNumber"`
	Message          string  `json:"message"`
	RemainingSeconds flexInt `json:"remainingSeconds"`
}
