// Package pricing holds the unit price analysis (AHS) catalog and derives
// budget line prices from it.
package pricing

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"rabtrack/internal/platform/validate"
	"rabtrack/pkg/domain"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the serializable form of the library.
type Catalog struct {
	Resources []domain.PricingResource `json:"resources" yaml:"resources" validate:"dive"`
	AHS       []domain.AHSItem         `json:"ahs" yaml:"ahs" validate:"dive"`
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Errorf("pricing: embedded catalog: %w", err))
	}
	return c
}

// Library is the shared, mutable catalog. Every mutation bumps Version.
type Library struct {
	mu        sync.RWMutex
	version   int64
	resources map[string]domain.PricingResource
	ahs       map[string]domain.AHSItem
}

// NewLibrary builds a library from a catalog.
func NewLibrary(c Catalog) *Library {
	l := &Library{}
	l.replace(c)
	return l
}

// NewDefaultLibrary builds a library from the built-in catalog.
func NewDefaultLibrary() *Library {
	return NewLibrary(DefaultCatalog())
}

func (l *Library) replace(c Catalog) {
	l.resources = make(map[string]domain.PricingResource, len(c.Resources))
	for _, r := range c.Resources {
		l.resources[r.ID] = r
	}
	l.ahs = make(map[string]domain.AHSItem, len(c.AHS))
	for _, a := range c.AHS {
		a.Components = append([]domain.AHSComponent(nil), a.Components...)
		l.ahs[a.ID] = a
	}
	l.version++
}

// Version returns the catalog revision.
func (l *Library) Version() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Snapshot returns the catalog sorted by code.
func (l *Library) Snapshot() Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Catalog{Resources: l.resourcesLocked(), AHS: l.ahsLocked()}
}

// Resources lists priced resources sorted by code.
func (l *Library) Resources() []domain.PricingResource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resourcesLocked()
}

// AHSItems lists AHS items sorted by code.
func (l *Library) AHSItems() []domain.AHSItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ahsLocked()
}

func (l *Library) resourcesLocked() []domain.PricingResource {
	out := make([]domain.PricingResource, 0, len(l.resources))
	for _, r := range l.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code+out[i].ID < out[j].Code+out[j].ID })
	return out
}

func (l *Library) ahsLocked() []domain.AHSItem {
	out := make([]domain.AHSItem, 0, len(l.ahs))
	for _, a := range l.ahs {
		a.Components = append([]domain.AHSComponent(nil), a.Components...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code+out[i].ID < out[j].Code+out[j].ID })
	return out
}

// ResetToDefault wholesale-replaces the catalog with the built-in one.
func (l *Library) ResetToDefault() Catalog {
	c := DefaultCatalog()
	l.Replace(c)
	return c
}

// Replace swaps in a whole catalog.
func (l *Library) Replace(c Catalog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replace(c)
}

// UpsertResource adds or replaces a priced resource.
func (l *Library) UpsertResource(r domain.PricingResource) error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources[r.ID] = r
	l.version++
	return nil
}

// UpsertAHS adds or replaces an AHS item. Every component must reference a
// known resource.
func (l *Library) UpsertAHS(a domain.AHSItem) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range a.Components {
		if _, ok := l.resources[c.ResourceID]; !ok {
			return domain.ValidationError{
				Fields: []string{"components.resourceId"},
				Reason: fmt.Sprintf("unknown resource %q", c.ResourceID),
			}
		}
	}
	a.Components = append([]domain.AHSComponent(nil), a.Components...)
	l.ahs[a.ID] = a
	l.version++
	return nil
}

// DeleteAHS removes an AHS item. Locked RAB items keep their frozen price.
func (l *Library) DeleteAHS(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ahs[id]; !ok {
		return domain.NotFoundError{Collection: "ahs", ID: id}
	}
	delete(l.ahs, id)
	l.version++
	return nil
}

// ComputeUnitPrice sums coefficient × current resource price over the AHS
// item's components, rounded to cents. Prices are resolved at call time.
func (l *Library) ComputeUnitPrice(ahsID string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.computeLocked(ahsID)
}

func (l *Library) computeLocked(ahsID string) (float64, error) {
	item, ok := l.ahs[ahsID]
	if !ok {
		return 0, domain.NotFoundError{Collection: "ahs", ID: ahsID}
	}
	var total float64
	for _, c := range item.Components {
		res, ok := l.resources[c.ResourceID]
		if !ok {
			return 0, fmt.Errorf("ahs %s: %w", ahsID, domain.NotFoundError{Collection: "resources", ID: c.ResourceID})
		}
		total += c.Coefficient * res.Price
	}
	return roundCents(total), nil
}

// LockPrice freezes the unit price of a RAB item. An item linked to an AHS
// takes the currently computed price; an unlinked item keeps its own. A
// locked item is returned unchanged.
func (l *Library) LockPrice(item domain.RABItem, now time.Time) (domain.RABItem, error) {
	if item.Locked() {
		return item, nil
	}
	if item.AHSID != nil {
		price, err := l.ComputeUnitPrice(*item.AHSID)
		if err != nil {
			return item, err
		}
		item.UnitPrice = price
	}
	locked := now.UTC()
	item.PriceLockedAt = &locked
	return item, nil
}

// Reprice recomputes the unit price of every unlocked, AHS-linked item.
// Items whose AHS no longer exists keep their price. The second result is
// the number of items whose price changed.
func (l *Library) Reprice(items []domain.RABItem) ([]domain.RABItem, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.RABItem, len(items))
	changed := 0
	for i, it := range items {
		out[i] = it
		if it.Locked() || it.AHSID == nil {
			continue
		}
		price, err := l.computeLocked(*it.AHSID)
		if err != nil {
			continue
		}
		if price != it.UnitPrice {
			out[i].UnitPrice = price
			changed++
		}
	}
	return out, changed
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
