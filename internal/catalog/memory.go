package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is a map-backed Repository used by tests and local
// tooling.
type MemoryRepository struct {
	mu       sync.RWMutex
	vaccines map[string]Vaccine
	centers  map[string]Center
	stock    map[string]map[string]*StockLevel // centerID -> vaccineID -> level
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		vaccines: make(map[string]Vaccine),
		centers:  make(map[string]Center),
		stock:    make(map[string]map[string]*StockLevel),
	}
}

func (r *MemoryRepository) AddVaccine(v Vaccine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaccines[v.ID] = v
}

func (r *MemoryRepository) AddCenter(c Center) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.centers[c.ID] = c
}

func (r *MemoryRepository) SetStock(centerID, vaccineID string, total, allocated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stock[centerID] == nil {
		r.stock[centerID] = make(map[string]*StockLevel)
	}
	r.stock[centerID][vaccineID] = &StockLevel{
		CenterID:       centerID,
		VaccineID:      vaccineID,
		TotalUnits:     total,
		AllocatedUnits: allocated,
	}
}

func (r *MemoryRepository) GetVaccine(_ context.Context, id string) (*Vaccine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaccines[id]
	if !ok {
		return nil, ErrVaccineNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) ListVaccines(_ context.Context) ([]Vaccine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Vaccine, 0, len(r.vaccines))
	for _, v := range r.vaccines {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) GetCenter(_ context.Context, id string) (*Center, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.centers[id]
	if !ok {
		return nil, ErrCenterNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) ListCenters(_ context.Context) ([]Center, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Center, 0, len(r.centers))
	for _, c := range r.centers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) ListStock(_ context.Context, centerID string) ([]StockLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []StockLevel
	for _, s := range r.stock[centerID] {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VaccineID < result[j].VaccineID })
	return result, nil
}

func (r *MemoryRepository) AvailableUnits(_ context.Context, vaccineID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]int)
	for centerID, levels := range r.stock {
		if s, ok := levels[vaccineID]; ok {
			result[centerID] = s.AvailableUnits()
		}
	}
	return result, nil
}
