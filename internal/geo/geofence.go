// Package geo implements the on-site check used to admit claims and staff status changes.
package geo

import (
	"errors"
	"math"
	"strings"

	"table-status-backend/config"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// ErrUnknownSite is returned when a named site is not configured.
var ErrUnknownSite = errors.New("unknown site")

// Position is a WGS84 coordinate pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DemoSwitch reports whether the geofence is disabled for demonstrations.
type DemoSwitch interface {
	Enabled() bool
}

// Haversine returns the great-circle distance in kilometers between two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Pow(math.Sin(dLon/2), 2)
	// Rounding can push a just past 1 for antipodal points.
	c := 2 * math.Asin(math.Sqrt(math.Min(1, a)))
	return EarthRadiusKm * c
}

// IsOnSite reports whether the user is within thresholdKm of the site.
func IsOnSite(userLat, userLon, siteLat, siteLon, thresholdKm float64) bool {
	return Haversine(userLat, userLon, siteLat, siteLon) <= thresholdKm
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Fence checks positions against the configured sites.
type Fence struct {
	sites       []config.Site
	thresholdKm float64
	demo        DemoSwitch
}

// NewFence creates a fence over sites. demo may be nil.
func NewFence(sites []config.Site, thresholdKm float64, demo DemoSwitch) *Fence {
	return &Fence{sites: sites, thresholdKm: thresholdKm, demo: demo}
}

// DemoMode reports whether the fence is currently bypassed.
func (f *Fence) DemoMode() bool {
	return f.demo != nil && f.demo.Enabled()
}

// Site resolves a site by name. An empty name selects the first configured site.
func (f *Fence) Site(name string) (config.Site, error) {
	if len(f.sites) == 0 {
		return config.Site{}, ErrUnknownSite
	}
	if name == "" {
		return f.sites[0], nil
	}
	for _, s := range f.sites {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return config.Site{}, ErrUnknownSite
}

// Check returns the distance from pos to site and whether pos counts as on-site.
// In demo mode the verdict is always true.
func (f *Fence) Check(site config.Site, pos Position) (float64, bool) {
	distance := Haversine(pos.Lat, pos.Lon, site.Lat, site.Lon)
	if f.DemoMode() {
		return distance, true
	}
	return distance, distance <= f.thresholdKm
}
