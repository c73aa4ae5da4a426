package schema

import (
	"fmt"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Map returns the stored form {"lat": .., "lon": ..}.
func (p GeoPoint) Map() map[string]any {
	return map[string]any{"lat": p.Lat, "lon": p.Lon}
}

// ToGeoPoint accepts a GeoPoint, a {lat, lon} map, or a two element list.
func ToGeoPoint(v any) (GeoPoint, error) {
	switch p := v.(type) {
	case GeoPoint:
		return p, nil
	case *GeoPoint:
		if p == nil {
			return GeoPoint{}, fmt.Errorf("nil geo point")
		}
		return *p, nil
	case [2]float64:
		return GeoPoint{Lat: p[0], Lon: p[1]}, nil
	}
	if m, ok := asMap(v); ok {
		lat, okLat := core.AsFloat64(m["lat"])
		lon, okLon := core.AsFloat64(m["lon"])
		if !okLat || !okLon {
			return GeoPoint{}, fmt.Errorf("geo point map needs numeric lat and lon")
		}
		return GeoPoint{Lat: lat, Lon: lon}, nil
	}
	if items, ok := asSlice(v); ok {
		if len(items) != 2 {
			return GeoPoint{}, fmt.Errorf("geo point list needs 2 elements, got %d", len(items))
		}
		lat, okLat := core.AsFloat64(items[0])
		lon, okLon := core.AsFloat64(items[1])
		if !okLat || !okLon {
			return GeoPoint{}, fmt.Errorf("geo point list needs numeric elements")
		}
		return GeoPoint{Lat: lat, Lon: lon}, nil
	}
	return GeoPoint{}, fmt.Errorf("cannot read %T as geo point", v)
}
