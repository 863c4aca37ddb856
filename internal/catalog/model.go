package catalog

// Vaccine is immutable reference data describing a dose series.
type Vaccine struct {
	ID              string
	Name            string
	TotalDoses      int // primary series length, >= 1
	MinIntervalDays int // minimum days between consecutive doses
	BoosterEligible bool
}

// Center is a vaccination site. Stock levels live in center_stock and are
// mutated only through the capacity ledger.
type Center struct {
	ID                string
	Name              string
	Address           string
	City              string
	State             string
	Pincode           string
	Latitude          float64
	Longitude         float64
	OpenTime          string // "09:00"
	CloseTime         string // "17:00"
	SlotLengthMinutes int
}

type StockLevel struct {
	CenterID       string
	VaccineID      string
	TotalUnits     int
	AllocatedUnits int
}

func (s StockLevel) AvailableUnits() int {
	return s.TotalUnits - s.AllocatedUnits
}
