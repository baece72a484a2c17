package ledger

import (
	"fmt"
	"time"

	"github.com/platinummonkey/voxnote/pkg/plans"
)

// UsageKind is the unit a note consumes
type UsageKind string

const (
	UsageUpload    UsageKind = "upload"
	UsageRecording UsageKind = "recording"
)

// Usage is an amount of one quota kind
type Usage struct {
	Kind   UsageKind
	Amount int
}

// Upload is one file upload
func Upload() Usage {
	return Usage{Kind: UsageUpload, Amount: 1}
}

// RecordingSeconds is n seconds of live recording
func RecordingSeconds(n int) Usage {
	return Usage{Kind: UsageRecording, Amount: n}
}

func (u Usage) validate() error {
	switch u.Kind {
	case UsageUpload, UsageRecording:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidUsage, u.Kind)
	}
	if u.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidUsage)
	}
	return nil
}

func (u Usage) String() string {
	if u.Kind == UsageRecording {
		return fmt.Sprintf("%ds recording", u.Amount)
	}
	return fmt.Sprintf("%d upload(s)", u.Amount)
}

// Subscription is a user's entitlement row joined with its plan
type Subscription struct {
	UserID                    int64      `json:"userId"`
	PlanID                    int64      `json:"planId"`
	Plan                      plans.Plan `json:"-"`
	RenewalDate               time.Time  `json:"renewalDate"`
	UploadsLeft               int        `json:"uploadsLeft"`
	RecordingTimeLeft         int        `json:"recordingTimeLeft"`
	BillingSubscriptionHandle *string    `json:"-"`
	BillingEventAt            *time.Time `json:"-"`
	// PaidThrough is the end of the last paid period granted
	PaidThrough               *time.Time `json:"-"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// Remaining returns the counter for kind
func (s *Subscription) Remaining(kind UsageKind) int {
	if kind == UsageRecording {
		return s.RecordingTimeLeft
	}
	return s.UploadsLeft
}

// HasHandle reports whether the row holds billing subscription handle h
func (s *Subscription) HasHandle(h string) bool {
	return s.BillingSubscriptionHandle != nil && *s.BillingSubscriptionHandle == h
}

// PlanChange is the target state of ApplyPlanChange
type PlanChange struct {
	Plan          *plans.Plan
	BillingHandle *string
	RenewalDate   time.Time
	// EventAt is the provider timestamp of the triggering event. Zero
	// disables the staleness check.
	EventAt time.Time
}

// Option guards a provider-driven transition
type Option func(*guard)

type guard struct {
	asOf     time.Time
	ifHandle *string
}

// AsOf rejects the transition with ErrStaleEvent when the row already
// reflects a newer provider event.
func AsOf(t time.Time) Option {
	return func(g *guard) { g.asOf = t }
}

// IfHandle applies the transition only while the row still holds billing
// subscription handle h; otherwise ErrHandleMismatch.
func IfHandle(h string) Option {
	return func(g *guard) { g.ifHandle = &h }
}

func newGuard(opts []Option) guard {
	var g guard
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

func (g guard) check(sub *Subscription) error {
	if isStale(sub, g.asOf) {
		return ErrStaleEvent
	}
	if g.ifHandle != nil && !sub.HasHandle(*g.ifHandle) {
		return ErrHandleMismatch
	}
	return nil
}

func isStale(sub *Subscription, eventAt time.Time) bool {
	return !eventAt.IsZero() && sub.BillingEventAt != nil && eventAt.Before(*sub.BillingEventAt)
}

// newestEventAt returns the later of the row's event time and eventAt
func newestEventAt(sub *Subscription, eventAt time.Time) *time.Time {
	if eventAt.IsZero() {
		return sub.BillingEventAt
	}
	if sub.BillingEventAt != nil && sub.BillingEventAt.After(eventAt) {
		return sub.BillingEventAt
	}
	t := eventAt.UTC()
	return &t
}

func sameHandle(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
