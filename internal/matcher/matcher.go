package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vaxtrack/vaccination-scheduling/internal/catalog"
)

// Query narrows and ranks centers for one patient. VaccineID and Search
// are optional; Location is the patient's position for distance ranking.
type Query struct {
	VaccineID string
	Search    string
	Latitude  float64
	Longitude float64
}

type RankedCenter struct {
	catalog.Center
	DistanceKm     float64
	AvailableUnits int // units of the queried vaccine; 0 when no vaccine filter
}

type Matcher struct {
	catalog catalog.Repository
}

func New(catalogRepo catalog.Repository) *Matcher {
	return &Matcher{catalog: catalogRepo}
}

// Find returns centers matching the query sorted by ascending distance,
// ties broken by center id. The ranking is recomputed on every call so
// stock mutations are reflected immediately.
func (m *Matcher) Find(ctx context.Context, q Query) ([]RankedCenter, error) {
	centers, err := m.catalog.ListCenters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}

	var available map[string]int
	if q.VaccineID != "" {
		available, err = m.catalog.AvailableUnits(ctx, q.VaccineID)
		if err != nil {
			return nil, fmt.Errorf("available units for %s: %w", q.VaccineID, err)
		}
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))

	result := make([]RankedCenter, 0, len(centers))
	for _, c := range centers {
		units := 0
		if q.VaccineID != "" {
			units = available[c.ID]
			if units <= 0 {
				continue
			}
		}
		if search != "" && !matchesSearch(c, search) {
			continue
		}

		result = append(result, RankedCenter{
			Center:         c,
			DistanceKm:     haversineKm(q.Latitude, q.Longitude, c.Latitude, c.Longitude),
			AvailableUnits: units,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].DistanceKm != result[j].DistanceKm {
			return result[i].DistanceKm < result[j].DistanceKm
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func matchesSearch(c catalog.Center, search string) bool {
	return strings.Contains(strings.ToLower(c.Name), search) ||
		strings.Contains(strings.ToLower(c.Address), search) ||
		strings.Contains(strings.ToLower(c.City), search) ||
		strings.Contains(strings.ToLower(c.State), search) ||
		strings.Contains(c.Pincode, search)
}

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
