package plans

import (
	"errors"
	"fmt"
)

// PlanType identifies a subscription tier
type PlanType string

const (
	PlanTypeFree     PlanType = "free"
	PlanTypeStandard PlanType = "standard"
	PlanTypePro      PlanType = "pro"
)

// AllPlanTypes lists every tier in ascending price order
var AllPlanTypes = []PlanType{PlanTypeFree, PlanTypeStandard, PlanTypePro}

// Valid reports whether t is a known tier
func (t PlanType) Valid() bool {
	switch t {
	case PlanTypeFree, PlanTypeStandard, PlanTypePro:
		return true
	}
	return false
}

// ErrPlanNotFound is returned when no plan matches a lookup
var ErrPlanNotFound = errors.New("plan not found")

// Plan is an immutable tier definition
type Plan struct {
	ID               int64    `json:"id"`
	Type             PlanType `json:"planType"`
	PriceCents       int64    `json:"-"`
	MaxUploads       int      `json:"maxUploads"`
	MaxRecordingTime int      `json:"maxRecordingTime"` // seconds
	PriceHandle      *string  `json:"-"`
}

// Price formats the price as a decimal string, e.g. "9.99"
func (p *Plan) Price() string {
	return fmt.Sprintf("%d.%02d", p.PriceCents/100, p.PriceCents%100)
}

// IsFree reports whether p is the free tier
func (p *Plan) IsFree() bool {
	return p.Type == PlanTypeFree
}

// PlanView is the public JSON shape of a plan
type PlanView struct {
	ID               int64    `json:"id"`
	PlanType         PlanType `json:"planType"`
	MaxUploads       int      `json:"maxUploads"`
	MaxRecordingTime int      `json:"maxRecordingTime"`
	Price            string   `json:"price"`
}

// View returns the public representation of p
func (p *Plan) View() PlanView {
	return PlanView{
		ID:               p.ID,
		PlanType:         p.Type,
		MaxUploads:       p.MaxUploads,
		MaxRecordingTime: p.MaxRecordingTime,
		Price:            p.Price(),
	}
}
