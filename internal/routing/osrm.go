// Package routing fetches drive routes from an OSRM-compatible HTTP
// service. A failed lookup degrades to a two-point straight line so the
// ride flow never stalls on the routing provider.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// Client is the interface the ride machine uses to acquire routes.
type Client interface {
	Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error)
}

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	HTTP     *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, HTTP: &http.Client{Timeout: 4 * time.Second}}
}

// Route queries OSRM /route with full geojson overview and returns the
// polyline as ordered coordinates.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm no route: %v", out.Code)
	}
	coords := make([]models.Coord, 0, len(out.Routes[0].Geometry.Coordinates))
	for _, c := range out.Routes[0].Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		coords = append(coords, models.Coord{Lat: c[1], Lon: c[0]})
	}
	return coords, nil
}

// Fallback returns the straight-line route used when the provider fails.
func Fallback(from, to models.Coord) []models.Coord {
	return []models.Coord{from, to}
}

// RouteOrFallback never fails: a provider error yields the straight line.
func RouteOrFallback(ctx context.Context, c Client, from, to models.Coord) []models.Coord {
	if c != nil {
		if coords, err := c.Route(ctx, from, to); err == nil && len(coords) > 0 {
			return coords
		}
	}
	return Fallback(from, to)
}
