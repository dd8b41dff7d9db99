package ctxmap

import (
	"fmt"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/mmcloughlin/geohash"
)

const (
	MinGeoPrecision = 1
	MaxGeoPrecision = 12
)

// geohashAlphabet is the base32 alphabet of geohash cells.
const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `msgpack:"lat" toml:"lat"`
	Lon float64 `msgpack:"lon" toml:"lon"`
}

type geoMapping struct {
	precision int
	neighbors bool
}

// NewGeo creates a geo mapping bucketing points into geohash cells of the given precision.
func NewGeo(name string, precision int, neighbors bool) (*Mapping, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if precision < MinGeoPrecision || precision > MaxGeoPrecision {
		return nil, errdefs.NewConfigError(name,
			fmt.Sprintf("precision %d outside [%d, %d]", precision, MinGeoPrecision, MaxGeoPrecision), nil)
	}
	return &Mapping{
		name: name,
		kind: KindGeo,
		geo:  &geoMapping{precision: precision, neighbors: neighbors},
	}, nil
}

func validGeohash(hash string) error {
	if hash == "" {
		return fmt.Errorf("empty geohash")
	}
	if len(hash) > MaxGeoPrecision {
		return fmt.Errorf("geohash %q longer than %d", hash, MaxGeoPrecision)
	}
	for _, r := range hash {
		if !strings.ContainsRune(geohashAlphabet, r) {
			return fmt.Errorf("geohash %q has invalid character %q", hash, r)
		}
	}
	return nil
}

func validPoint(p GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v outside [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v outside [-180, 180]", p.Lon)
	}
	return nil
}

// cellAt returns the cell of raw at precision chars.
// Geohash strings longer than chars are truncated; shorter ones are re-encoded
// from their centre.
func cellAt(raw any, chars int) (string, error) {
	switch v := raw.(type) {
	case GeoPoint:
		if err := validPoint(v); err != nil {
			return "", err
		}
		return geohash.EncodeWithPrecision(v.Lat, v.Lon, uint(chars)), nil
	case *GeoPoint:
		if v == nil {
			return "", fmt.Errorf("nil geo point")
		}
		return cellAt(*v, chars)
	case map[string]any:
		p, err := PointFromMap(v)
		if err != nil {
			return "", err
		}
		return cellAt(p, chars)
	case string:
		hash := strings.ToLower(strings.TrimSpace(v))
		if err := validGeohash(hash); err != nil {
			return "", err
		}
		if len(hash) >= chars {
			return hash[:chars], nil
		}
		lat, lon := geohash.DecodeCenter(hash)
		return geohash.EncodeWithPrecision(lat, lon, uint(chars)), nil
	default:
		return "", fmt.Errorf("geo value must be a GeoPoint or geohash string, got %T", raw)
	}
}

// PointFromMap reads a {lat, lon} map as decoded from msgpack or TOML.
func PointFromMap(m map[string]any) (GeoPoint, error) {
	lat, okLat := toFloat(m["lat"])
	lon, okLon := toFloat(m["lon"])
	if !okLat || !okLon {
		return GeoPoint{}, fmt.Errorf("point %v needs numeric lat and lon", m)
	}
	p := GeoPoint{Lat: lat, Lon: lon}
	return p, validPoint(p)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func (g *geoMapping) cell(mapping string, raw any) (string, error) {
	c, err := cellAt(raw, g.precision)
	if err != nil {
		return "", errdefs.NewConfigError(mapping, "invalid geo value", err)
	}
	return c, nil
}

func (g *geoMapping) encodeIndex(mapping string, raw any) ([][]byte, error) {
	c, err := g.cell(mapping, raw)
	if err != nil {
		return nil, err
	}
	if !g.neighbors {
		return [][]byte{[]byte(c)}, nil
	}
	return cellTokens(c, true), nil
}

// cellTokens returns the cell and, if asked, its neighbours, deduplicated.
// Near the poles several neighbours can collapse to the same cell.
func cellTokens(cell string, neighbors bool) [][]byte {
	out := [][]byte{[]byte(cell)}
	if !neighbors {
		return out
	}
	seen := map[string]bool{cell: true}
	for _, n := range geohash.Neighbors(cell) {
		if len(n) != len(cell) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, []byte(n))
	}
	return out
}

func (g *geoMapping) encodeQuery(mapping string, qc QueryContext, boost uint32) ([]InternalQueryContext, error) {
	precision := qc.Precision
	if precision == 0 || precision > g.precision {
		precision = g.precision
	}
	if precision < MinGeoPrecision {
		return nil, errdefs.InvalidRequest("context %q: precision %d below %d", mapping, qc.Precision, MinGeoPrecision)
	}
	c, err := cellAt(qc.Value, precision)
	if err != nil {
		return nil, errdefs.InvalidRequest("context %q: %v", mapping, err)
	}

	seen := make(map[string]bool)
	var out []InternalQueryContext
	add := func(cell string) {
		if seen[cell] {
			return
		}
		seen[cell] = true
		out = append(out, InternalQueryContext{
			Name:     mapping,
			Value:    []byte(cell),
			Boost:    boost,
			IsPrefix: len(cell) < g.precision,
		})
	}
	add(c)
	for _, np := range qc.Neighbours {
		if np < MinGeoPrecision || np > MaxGeoPrecision {
			return nil, errdefs.InvalidRequest("context %q: neighbour precision %d outside [%d, %d]",
				mapping, np, MinGeoPrecision, MaxGeoPrecision)
		}
		if np > g.precision {
			np = g.precision
		}
		nc, err := cellAt(qc.Value, np)
		if err != nil {
			return nil, errdefs.InvalidRequest("context %q: %v", mapping, err)
		}
		for _, tok := range cellTokens(nc, true) {
			add(string(tok))
		}
	}
	return out, nil
}
