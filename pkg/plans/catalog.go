package plans

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const snapshotKey = "catalog"

// Lookup resolves plans. Catalog implements it; consumers depend on this
// interface so tests can supply fixed plans.
type Lookup interface {
	List(ctx context.Context) ([]*Plan, error)
	ByID(ctx context.Context, id int64) (*Plan, error)
	ByType(ctx context.Context, planType PlanType) (*Plan, error)
	ByPriceHandle(ctx context.Context, handle string) (*Plan, error)
}

// Catalog reads plans from PostgreSQL and caches the whole table. Plans are
// immutable at runtime so a TTL only bounds how long a reseed takes to show.
type Catalog struct {
	db    *sql.DB
	cache *lru.LRU[string, []*Plan]
	mu    sync.Mutex
}

// NewCatalog creates a catalog with the given cache TTL
func NewCatalog(db *sql.DB, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		db:    db,
		cache: lru.NewLRU[string, []*Plan](1, nil, ttl),
	}
}

// List returns every plan ordered by price
func (c *Catalog) List(ctx context.Context) ([]*Plan, error) {
	plans, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Plan, len(plans))
	for i, p := range plans {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

// ByID returns the plan with the given id
func (c *Catalog) ByID(ctx context.Context, id int64) (*Plan, error) {
	return c.find(ctx, func(p *Plan) bool { return p.ID == id })
}

// ByType returns the plan of the given tier
func (c *Catalog) ByType(ctx context.Context, planType PlanType) (*Plan, error) {
	return c.find(ctx, func(p *Plan) bool { return p.Type == planType })
}

// ByPriceHandle returns the plan billed under the given provider price id
func (c *Catalog) ByPriceHandle(ctx context.Context, handle string) (*Plan, error) {
	if handle == "" {
		return nil, ErrPlanNotFound
	}
	return c.find(ctx, func(p *Plan) bool { return p.PriceHandle != nil && *p.PriceHandle == handle })
}

// Invalidate drops the cached snapshot
func (c *Catalog) Invalidate() {
	c.cache.Purge()
}

func (c *Catalog) find(ctx context.Context, match func(*Plan) bool) (*Plan, error) {
	plans, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (c *Catalog) snapshot(ctx context.Context) ([]*Plan, error) {
	if plans, ok := c.cache.Get(snapshotKey); ok {
		return plans, nil
	}

	// Serialize loads so a cold cache costs one query
	c.mu.Lock()
	defer c.mu.Unlock()
	if plans, ok := c.cache.Get(snapshotKey); ok {
		return plans, nil
	}

	plans, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(snapshotKey, plans)
	return plans, nil
}

func (c *Catalog) load(ctx context.Context) ([]*Plan, error) {
	query := `
		SELECT id, plan_type, price_cents, max_uploads, max_recording_time, price_handle
		FROM plans
		ORDER BY price_cents, id
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p := &Plan{}
		var handle sql.NullString
		if err := rows.Scan(&p.ID, &p.Type, &p.PriceCents, &p.MaxUploads, &p.MaxRecordingTime, &handle); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if handle.Valid {
			h := handle.String
			p.PriceHandle = &h
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}
