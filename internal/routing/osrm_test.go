package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/driver-agent/internal/models"
)

func TestRouteDecodesGeoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("geometries") != "geojson" {
			t.Errorf("expected geojson geometries, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": "Ok",
			"routes": []map[string]any{{
				"geometry": map[string]any{
					// OSRM order is lon,lat
					"coordinates": [][]float64{{77.5946, 12.9716}, {77.6245, 12.9352}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	coords, err := c.Route(context.Background(), models.Coord{Lat: 12.9716, Lon: 77.5946}, models.Coord{Lat: 12.9352, Lon: 77.6245})
	if err != nil {
		t.Fatal(err)
	}
	if len(coords) != 2 {
		t.Fatalf("expected 2 coords, got %d", len(coords))
	}
	if coords[0].Lat != 12.9716 || coords[0].Lon != 77.5946 {
		t.Fatalf("lon/lat swapped: %+v", coords[0])
	}
}

func TestRouteNoRouteIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": "NoRoute"})
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	if _, err := c.Route(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err == nil {
		t.Fatal("expected error for NoRoute")
	}
}

func TestRouteOrFallbackDegradesToStraightLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", 500)
	}))
	defer srv.Close()

	from := models.Coord{Lat: 1, Lon: 2}
	to := models.Coord{Lat: 3, Lon: 4}
	coords := RouteOrFallback(context.Background(), NewOSRMClient(srv.URL), from, to)
	if len(coords) != 2 || coords[0] != from || coords[1] != to {
		t.Fatalf("expected straight line, got %+v", coords)
	}

	coords = RouteOrFallback(context.Background(), nil, from, to)
	if len(coords) != 2 {
		t.Fatalf("nil client must still produce a line, got %+v", coords)
	}
}
