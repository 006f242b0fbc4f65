package ledger

import (
	"fmt"
	"math"

	"rabtrack/pkg/domain"
)

// ErrInsufficientStock is returned when an outgoing movement exceeds the
// material's stock. It matches domain.ErrValidation.
var ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", domain.ErrValidation)

const stockEpsilon = 1e-9

// StockFromLog replays the ledger of one material.
func StockFromLog(logs []domain.MaterialLog, materialID int) float64 {
	var stock float64
	for _, l := range logs {
		if l.MaterialID != materialID {
			continue
		}
		switch l.Type {
		case domain.MovementIn:
			stock += l.Quantity
		case domain.MovementOut:
			stock -= l.Quantity
		}
	}
	return stock
}

// ApplyMovement appends entry to the ledger and updates the cached stock of
// its material. Inputs are not mutated.
func ApplyMovement(materials []domain.Material, logs []domain.MaterialLog, entry domain.MaterialLog) ([]domain.Material, []domain.MaterialLog, error) {
	if entry.Quantity <= 0 || math.IsNaN(entry.Quantity) || math.IsInf(entry.Quantity, 0) {
		return nil, nil, domain.ValidationError{Fields: []string{"quantity"}, Reason: "must be a positive number"}
	}
	if entry.Type != domain.MovementIn && entry.Type != domain.MovementOut {
		return nil, nil, domain.ValidationError{Fields: []string{"type"}, Reason: fmt.Sprintf("unknown movement %q", entry.Type)}
	}
	idx := -1
	for i, m := range materials {
		if m.ID == entry.MaterialID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, domain.NotFoundError{Collection: "materials", ID: fmt.Sprint(entry.MaterialID)}
	}

	nextMaterials := append([]domain.Material(nil), materials...)
	m := nextMaterials[idx]
	switch entry.Type {
	case domain.MovementIn:
		m.Stock += entry.Quantity
	case domain.MovementOut:
		if entry.Quantity > m.Stock+stockEpsilon {
			return nil, nil, fmt.Errorf("%s: have %v, need %v: %w", m.Name, m.Stock, entry.Quantity, ErrInsufficientStock)
		}
		m.Stock -= entry.Quantity
	}
	nextMaterials[idx] = m

	nextLogs := make([]domain.MaterialLog, 0, len(logs)+1)
	nextLogs = append(nextLogs, logs...)
	nextLogs = append(nextLogs, entry)
	return nextMaterials, nextLogs, nil
}

// NextMaterialID returns one more than the largest material id.
func NextMaterialID(materials []domain.Material) int {
	next := 1
	for _, m := range materials {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	return next
}

// AddMaterial appends m with a fresh id. A positive opening stock is
// recorded through opening, an incoming ledger entry whose quantity is taken
// from m.Stock.
func AddMaterial(materials []domain.Material, logs []domain.MaterialLog, m domain.Material, opening domain.MaterialLog) ([]domain.Material, []domain.MaterialLog, error) {
	if m.Stock < 0 || math.IsNaN(m.Stock) {
		return nil, nil, domain.ValidationError{Fields: []string{"stock"}, Reason: "opening stock must not be negative"}
	}
	initial := m.Stock
	m.ID = NextMaterialID(materials)
	m.Stock = 0
	nextMaterials := make([]domain.Material, 0, len(materials)+1)
	nextMaterials = append(nextMaterials, materials...)
	nextMaterials = append(nextMaterials, m)
	if initial == 0 {
		return nextMaterials, append([]domain.MaterialLog(nil), logs...), nil
	}
	opening.MaterialID = m.ID
	opening.Type = domain.MovementIn
	opening.Quantity = initial
	return ApplyMovement(nextMaterials, logs, opening)
}

// StockMismatch reports a material whose cached stock disagrees with its ledger.
type StockMismatch struct {
	MaterialID int
	Name       string
	Cached     float64
	Ledger     float64
}

// VerifyStock checks every material against its ledger.
func VerifyStock(p domain.Project) []StockMismatch {
	var out []StockMismatch
	for _, m := range p.Materials {
		want := StockFromLog(p.MaterialLogs, m.ID)
		if math.Abs(want-m.Stock) > 1e-6 {
			out = append(out, StockMismatch{MaterialID: m.ID, Name: m.Name, Cached: m.Stock, Ledger: want})
		}
	}
	return out
}
