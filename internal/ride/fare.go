package ride

import (
	"fmt"
	"math"

	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
)

// FinalFare computes the driver-side fare at completion: straight-line
// anchor-to-drop kilometers (0.1 km floor) times the offer's per-km rate,
// rounded to the nearest currency unit.
func FinalFare(anchor, drop models.Coord, ratePerKm float64) (km float64, fare int) {
	if ratePerKm <= 0 {
		ratePerKm = defaultRatePerKm
	}
	km = geo.FareDistanceKm(anchor, drop)
	fare = int(math.Round(km * ratePerKm))
	return km, fare
}

func buildBill(fareKm float64, fare int, r *models.Ride) *models.BillDetails {
	return &models.BillDetails{
		Distance:   fmt.Sprintf("%.2f km", fareKm),
		TravelTime: fmt.Sprintf("%d mins", int(math.Round(fareKm*10))),
		Charge:     fare,
		UserName:   r.UserName,
		UserMobile: r.UserMobile,
		BaseFare:   fare,
		TimeCharge: 0,
		Tax:        0,
	}
}
