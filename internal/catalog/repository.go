package catalog

import (
	"context"
	"errors"
)

var (
	ErrVaccineNotFound = errors.New("vaccine not found")
	ErrCenterNotFound  = errors.New("center not found")
)

// Repository is the read side of the catalog: reference data plus current
// stock levels. Stock mutation goes through the capacity ledger.
type Repository interface {
	GetVaccine(ctx context.Context, id string) (*Vaccine, error)
	ListVaccines(ctx context.Context) ([]Vaccine, error)

	GetCenter(ctx context.Context, id string) (*Center, error)
	ListCenters(ctx context.Context) ([]Center, error)

	ListStock(ctx context.Context, centerID string) ([]StockLevel, error)

	// AvailableUnits reports total_units - allocated_units per center for
	// one vaccine. Centers with no stock row for the vaccine are absent.
	AvailableUnits(ctx context.Context, vaccineID string) (map[string]int, error)
}
