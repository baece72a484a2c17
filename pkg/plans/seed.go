package plans

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedPlan is one entry of the plan seed
type SeedPlan struct {
	Type             PlanType `yaml:"plan_type"`
	PriceCents       int64    `yaml:"price_cents"`
	MaxUploads       int      `yaml:"max_uploads"`
	MaxRecordingTime int      `yaml:"max_recording_time"`
	PriceHandle      string   `yaml:"price_handle"`
}

type seedFile struct {
	Plans []SeedPlan `yaml:"plans"`
}

// DefaultPlans returns the built-in catalog. priceHandles maps plan type to
// the billing provider price id for the paid tiers.
func DefaultPlans(priceHandles map[string]string) []SeedPlan {
	return []SeedPlan{
		{Type: PlanTypeFree, PriceCents: 0, MaxUploads: 3, MaxRecordingTime: 300},
		{
			Type:             PlanTypeStandard,
			PriceCents:       999,
			MaxUploads:       30,
			MaxRecordingTime: 3600,
			PriceHandle:      priceHandles[string(PlanTypeStandard)],
		},
		{
			Type:             PlanTypePro,
			PriceCents:       1999,
			MaxUploads:       100,
			MaxRecordingTime: 18000,
			PriceHandle:      priceHandles[string(PlanTypePro)],
		},
	}
}

// LoadSeedFile reads a YAML plan seed:
//
//	plans:
//	  - plan_type: free
//	    max_uploads: 3
//	    max_recording_time: 300
func LoadSeedFile(path string) ([]SeedPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan seed file: %w", err)
	}
	if err := ValidateSeed(f.Plans); err != nil {
		return nil, err
	}
	return f.Plans, nil
}

// ValidateSeed checks that the seed defines each tier once, with a free tier
// and non-negative limits.
func ValidateSeed(seed []SeedPlan) error {
	seen := make(map[PlanType]bool, len(seed))
	for _, p := range seed {
		if !p.Type.Valid() {
			return fmt.Errorf("invalid plan type %q", p.Type)
		}
		if seen[p.Type] {
			return fmt.Errorf("duplicate plan type %q", p.Type)
		}
		seen[p.Type] = true
		if p.PriceCents < 0 || p.MaxUploads < 0 || p.MaxRecordingTime < 0 {
			return fmt.Errorf("plan %q has negative limits", p.Type)
		}
		if p.Type == PlanTypeFree && p.PriceHandle != "" {
			return fmt.Errorf("free plan cannot have a price handle")
		}
	}
	if !seen[PlanTypeFree] {
		return fmt.Errorf("seed must define the free plan")
	}
	return nil
}

// Seed upserts the catalog rows keyed by plan type. It runs at startup only.
func Seed(ctx context.Context, db *sql.DB, seed []SeedPlan) error {
	if err := ValidateSeed(seed); err != nil {
		return err
	}

	query := `
		INSERT INTO plans (plan_type, price_cents, max_uploads, max_recording_time, price_handle)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plan_type) DO UPDATE
		SET price_cents = EXCLUDED.price_cents,
		    max_uploads = EXCLUDED.max_uploads,
		    max_recording_time = EXCLUDED.max_recording_time,
		    price_handle = EXCLUDED.price_handle
	`
	for _, p := range seed {
		var handle sql.NullString
		if p.PriceHandle != "" {
			handle = sql.NullString{String: p.PriceHandle, Valid: true}
		}
		if _, err := db.ExecContext(ctx, query,
			p.Type, p.PriceCents, p.MaxUploads, p.MaxRecordingTime, handle,
		); err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.Type, err)
		}
	}
	return nil
}
