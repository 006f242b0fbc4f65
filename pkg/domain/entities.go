// Package domain defines the project document model, the remote document
// store contract, and the rule evaluation primitives used by rabtrack.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the kind of record a Change or Violation refers to.
type EntityType string

// Supported entity identifiers used in Change records and rule violations.
const (
	// EntityProject identifies a project document.
	EntityProject EntityType = "project"
	// EntityRABItem identifies a budget line within a project.
	EntityRABItem EntityType = "rab_item"
	// EntityWorker identifies a worker within a project.
	EntityWorker EntityType = "worker"
	// EntityMaterial identifies a material within a project.
	EntityMaterial EntityType = "material"
	// EntityTransaction identifies a cash transaction within a project.
	EntityTransaction EntityType = "transaction"
	EntityTemplate    EntityType = "project_template"
	EntityUser        EntityType = "app_user"
)

// ProjectStatus is the coarse execution state of a project.
type ProjectStatus string

// Canonical project statuses.
const (
	StatusOngoing   ProjectStatus = "Berjalan"
	StatusCompleted ProjectStatus = "Selesai"
	StatusOnHold    ProjectStatus = "Tertunda"
)

// MovementType is the direction of a material ledger entry.
type MovementType string

// Material movement directions.
const (
	MovementIn  MovementType = "in"
	MovementOut MovementType = "out"
)

// TransactionType separates cash inflow from outflow.
type TransactionType string

// Transaction kinds.
const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// AttendanceStatus records a worker's presence for one day.
type AttendanceStatus string

// Attendance statuses as entered on site.
const (
	AttendancePresent  AttendanceStatus = "Hadir"
	AttendanceLeave    AttendanceStatus = "Izin"
	AttendanceSick     AttendanceStatus = "Sakit"
	AttendanceOvertime AttendanceStatus = "Lembur"
	AttendanceAbsent   AttendanceStatus = "Alpha"
)

// DateLayout is the calendar date format used for every Date field.
const DateLayout = "2006-01-02"

// Date is a calendar day stored as YYYY-MM-DD. The empty string means unset.
type Date string

// DateOf formats t as a Date.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time parses the date. The boolean is false for unset or malformed values.
func (d Date) Time() (time.Time, bool) {
	if strings.TrimSpace(string(d)) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d == "" }

// Project is the root aggregate. Every entity of a project is embedded in
// its document; top-level fields never use omitempty so that each of them
// always carries a committable value.
type Project struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name" validate:"required,max=200"`
	Client              string               `json:"client"`
	Location            string               `json:"location"`
	OwnerPhone          string               `json:"ownerPhone"`
	Status              ProjectStatus        `json:"status" validate:"omitempty,oneof=Berjalan Selesai Tertunda"`
	Budget              float64              `json:"budget" validate:"gte=0"`
	StartDate           Date                 `json:"startDate"`
	EndDate             Date                 `json:"endDate"`
	IsDeleted           bool                 `json:"isDeleted"`
	DeletedAt           *time.Time           `json:"deletedAt"`
	ClientShowMoney     bool                 `json:"clientShowMoney"`
	CreatedAt           time.Time            `json:"createdAt"`
	CreatedBy           string               `json:"createdBy"`
	RABItems            []RABItem            `json:"rabItems" validate:"dive"`
	Workers             []Worker             `json:"workers" validate:"dive"`
	Materials           []Material           `json:"materials" validate:"dive"`
	MaterialLogs        []MaterialLog        `json:"materialLogs"`
	Transactions        []Transaction        `json:"transactions" validate:"dive"`
	TaskLogs            []TaskLog            `json:"taskLogs"`
	AttendanceLogs      []AttendanceLog      `json:"attendanceLogs"`
	AttendanceEvidences []AttendanceEvidence `json:"attendanceEvidences"`
	Gallery             []GalleryItem        `json:"gallery"`
}

// RABItem is one budget line of the cost breakdown.
type RABItem struct {
	ID            int        `json:"id"`
	Category      string     `json:"category"`
	Name          string     `json:"name" validate:"required"`
	Unit          string     `json:"unit"`
	Volume        float64    `json:"volume" validate:"gte=0"`
	UnitPrice     float64    `json:"unitPrice" validate:"gte=0"`
	Progress      int        `json:"progress" validate:"gte=0,lte=100"`
	IsAddendum    bool       `json:"isAddendum"`
	AHSID         *string    `json:"ahsId,omitempty"`
	PriceLockedAt *time.Time `json:"priceLockedAt,omitempty"`
	StartDate     Date       `json:"startDate,omitempty"`
	EndDate       Date       `json:"endDate,omitempty"`
}

// Cost returns volume × unit price.
func (r RABItem) Cost() float64 { return r.Volume * r.UnitPrice }

// Locked reports whether the unit price has been frozen.
func (r RABItem) Locked() bool { return r.PriceLockedAt != nil }

// Worker is a member of the site workforce. RealRate is what the contractor
// pays, MandorRate is what the client is billed.
type Worker struct {
	ID         int     `json:"id"`
	Name       string  `json:"name" validate:"required"`
	Role       string  `json:"role"`
	WageUnit   string  `json:"wageUnit"`
	RealRate   float64 `json:"realRate" validate:"gte=0"`
	MandorRate float64 `json:"mandorRate" validate:"gte=0"`
}

// Material is a stocked input. Stock is a cache of the MaterialLog ledger.
type Material struct {
	ID       int     `json:"id"`
	Name     string  `json:"name" validate:"required"`
	Unit     string  `json:"unit"`
	Stock    float64 `json:"stock"`
	MinStock float64 `json:"minStock" validate:"gte=0"`
}

// MaterialLog is an append-only stock movement.
type MaterialLog struct {
	ID         string       `json:"id"`
	MaterialID int          `json:"materialId"`
	Date       Date         `json:"date"`
	Type       MovementType `json:"type"`
	Quantity   float64      `json:"quantity"`
	Notes      string       `json:"notes"`
	Actor      string       `json:"actor"`
}

// Transaction is a cash movement.
type Transaction struct {
	ID          string          `json:"id"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	Amount      float64         `json:"amount" validate:"gte=0"`
	Type        TransactionType `json:"type" validate:"oneof=income expense"`
	Category    string          `json:"category"`
	ProofKey    string          `json:"proofKey,omitempty"`
}

// TaskLog is the audit trail of a progress change on a RAB item.
type TaskLog struct {
	ID               string `json:"id"`
	RABItemID        int    `json:"rabItemId"`
	Date             Date   `json:"date"`
	PreviousProgress int    `json:"previousProgress"`
	NewProgress      int    `json:"newProgress"`
	Note             string `json:"note"`
	Actor            string `json:"actor"`
}

// AttendanceLog records one worker's status for one day.
type AttendanceLog struct {
	ID       string           `json:"id"`
	WorkerID int              `json:"workerId"`
	Date     Date             `json:"date"`
	Status   AttendanceStatus `json:"status"`
}

// AttendanceEvidence proves a supervisor's on-site check-in.
type AttendanceEvidence struct {
	ID        string    `json:"id"`
	Date      Date      `json:"date"`
	PhotoKey  string    `json:"photoKey"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Uploader  string    `json:"uploader"`
	Timestamp time.Time `json:"timestamp"`
}

// GalleryItem is a progress photo.
type GalleryItem struct {
	ID       string `json:"id"`
	Date     Date   `json:"date"`
	Caption  string `json:"caption"`
	PhotoKey string `json:"photoKey"`
	Uploader string `json:"uploader"`
}

// ResourceKind classifies a priced input.
type ResourceKind string

// Pricing resource kinds.
const (
	ResourceLabor     ResourceKind = "upah"
	ResourceMaterial  ResourceKind = "bahan"
	ResourceEquipment ResourceKind = "alat"
)

// PricingResource is a priced input such as one labor-day or one unit of material.
type PricingResource struct {
	ID    string       `json:"id" yaml:"id" validate:"required"`
	Code  string       `json:"code" yaml:"code"`
	Name  string       `json:"name" yaml:"name" validate:"required"`
	Unit  string       `json:"unit" yaml:"unit"`
	Price float64      `json:"price" yaml:"price" validate:"gte=0"`
	Kind  ResourceKind `json:"kind" yaml:"kind"`
}

// AHSComponent is one weighted resource of an AHS item.
type AHSComponent struct {
	ResourceID  string  `json:"resourceId" yaml:"resource" validate:"required"`
	Coefficient float64 `json:"coefficient" yaml:"coefficient" validate:"gte=0"`
}

// AHSItem is a unit price analysis: a weighted composition of resources.
type AHSItem struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	Code       string         `json:"code" yaml:"code"`
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Unit       string         `json:"unit" yaml:"unit"`
	Category   string         `json:"category" yaml:"category"`
	Components []AHSComponent `json:"components" yaml:"components" validate:"dive"`
}

// TemplateRABItem is a RAB line without identity, progress or schedule.
type TemplateRABItem struct {
	Category      string     `json:"category"`
	Name          string     `json:"name"`
	Unit          string     `json:"unit"`
	Volume        float64    `json:"volume"`
	UnitPrice     float64    `json:"unitPrice"`
	IsAddendum    bool       `json:"isAddendum"`
	AHSID         *string    `json:"ahsId,omitempty"`
	PriceLockedAt *time.Time `json:"priceLockedAt,omitempty"`
}

// TemplateWorker is a worker without identity.
type TemplateWorker struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	WageUnit   string  `json:"wageUnit"`
	RealRate   float64 `json:"realRate"`
	MandorRate float64 `json:"mandorRate"`
}

// TemplateMaterial is a material without identity or stock.
type TemplateMaterial struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	MinStock float64 `json:"minStock"`
}

// ProjectTemplate is a detached structural snapshot of a project.
type ProjectTemplate struct {
	ID          string             `json:"id"`
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description"`
	CreatedBy   string             `json:"createdBy"`
	CreatedAt   time.Time          `json:"createdAt"`
	RABItems    []TemplateRABItem  `json:"rabItems"`
	Workers     []TemplateWorker   `json:"workers"`
	Materials   []TemplateMaterial `json:"materials"`
}

// AppUser is a registered account. Role holds the stored role name; it is
// parsed by the access package.
type AppUser struct {
	Email     string    `json:"email" validate:"required,email"`
	Name      string    `json:"name"`
	Role      string    `json:"role" validate:"required,oneof=super_admin kontraktor pengawas keuangan"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeEmail lowercases and trims an email so it can be used as a document key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
