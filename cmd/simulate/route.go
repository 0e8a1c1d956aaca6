package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
)

const earthRadiusMeters = 6371000.0

// Waypoint is a point on a bus route.
type Waypoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Status, when set, is reported from this waypoint onwards.
	Status string `json:"status,omitempty"`
}

// Route mirrors the JSON schema of a route file.
type Route struct {
	BusID     int64      `json:"busId"`
	TripID    *int64     `json:"tripId,omitempty"`
	Waypoints []Waypoint `json:"waypoints"`
}

// Position is one simulated fix along a route.
type Position struct {
	Latitude  float64
	Longitude float64
	Bearing   float64
	Status    string
}

// LoadRoute reads and validates a route file.
func LoadRoute(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route: %w", err)
	}
	var r Route
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid route JSON: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the bus id and the coordinates of every waypoint.
func (r *Route) Validate() error {
	var errs []error
	if r.BusID <= 0 {
		errs = append(errs, errors.New("busId must be positive"))
	}
	if len(r.Waypoints) < 2 {
		errs = append(errs, fmt.Errorf("route needs at least 2 waypoints, got %d", len(r.Waypoints)))
	}
	for i, w := range r.Waypoints {
		if w.Latitude < -90 || w.Latitude > 90 {
			errs = append(errs, fmt.Errorf("waypoints[%d]: latitude %v out of range", i, w.Latitude))
		}
		if w.Longitude < -180 || w.Longitude > 180 {
			errs = append(errs, fmt.Errorf("waypoints[%d]: longitude %v out of range", i, w.Longitude))
		}
	}
	return errors.Join(errs...)
}

// Interpolate returns steps evenly spaced positions per segment plus the
// final waypoint. Each position carries the bearing of its segment.
func (r *Route) Interpolate(steps int) []Position {
	if steps < 1 {
		steps = 1
	}
	status := ""
	var out []Position
	for i := 0; i < len(r.Waypoints)-1; i++ {
		from, to := r.Waypoints[i], r.Waypoints[i+1]
		if from.Status != "" {
			status = from.Status
		}
		heading := bearing(from, to)
		for s := 0; s < steps; s++ {
			f := float64(s) / float64(steps)
			out = append(out, Position{
				Latitude:  from.Latitude + (to.Latitude-from.Latitude)*f,
				Longitude: from.Longitude + (to.Longitude-from.Longitude)*f,
				Bearing:   heading,
				Status:    status,
			})
		}
	}
	last := r.Waypoints[len(r.Waypoints)-1]
	if last.Status != "" {
		status = last.Status
	}
	var heading float64
	if len(out) > 0 {
		heading = out[len(out)-1].Bearing
	}
	return append(out, Position{
		Latitude:  last.Latitude,
		Longitude: last.Longitude,
		Bearing:   heading,
		Status:    status,
	})
}

// Update builds the location_update payload for p. speed is in km/h.
func (r *Route) Update(p Position, speed float64) protocol.LocationUpdateData {
	busID := r.BusID
	lat, lon, brg := p.Latitude, p.Longitude, p.Bearing
	return protocol.LocationUpdateData{
		BusID:     &busID,
		TripID:    r.TripID,
		Latitude:  &lat,
		Longitude: &lon,
		Speed:     &speed,
		Bearing:   &brg,
		Status:    p.Status,
	}
}

// bearing is the initial great-circle bearing from a to b in degrees [0, 360).
func bearing(a, b Waypoint) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLon := radians(b.Longitude - a.Longitude)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// distanceMeters is the haversine distance between two positions.
func distanceMeters(a, b Position) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
