package plans

import "context"

// Static is a fixed in-memory Lookup
type Static []*Plan

// List implements Lookup
func (s Static) List(ctx context.Context) ([]*Plan, error) {
	out := make([]*Plan, len(s))
	for i, p := range s {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

// ByID implements Lookup
func (s Static) ByID(ctx context.Context, id int64) (*Plan, error) {
	return s.find(func(p *Plan) bool { return p.ID == id })
}

// ByType implements Lookup
func (s Static) ByType(ctx context.Context, planType PlanType) (*Plan, error) {
	return s.find(func(p *Plan) bool { return p.Type == planType })
}

// ByPriceHandle implements Lookup
func (s Static) ByPriceHandle(ctx context.Context, handle string) (*Plan, error) {
	return s.find(func(p *Plan) bool { return p.PriceHandle != nil && *p.PriceHandle == handle })
}

func (s Static) find(match func(*Plan) bool) (*Plan, error) {
	for _, p := range s {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}
