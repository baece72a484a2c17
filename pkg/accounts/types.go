package accounts

import (
	"net/mail"
	"strings"
	"time"

	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/plans"
)

// SignupRequest is the signup payload
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r SignupRequest) normalized() SignupRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = normalizeEmail(r.Email)
	return r
}

// Validate checks every field and reports all problems at once
func (r SignupRequest) Validate() error {
	var problems []string
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		problems = append(problems, "Please enter a valid email.")
	}
	problems = append(problems, auth.PasswordProblems(r.Password)...)
	if r.Name == "" {
		problems = append(problems, "Name is required.")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError lists the rules a request broke
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Profile is the caller's account with its subscription
type Profile struct {
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Subscription *SubscriptionView `json:"subscription"`
}

// SubscriptionView is the public shape of a subscription
type SubscriptionView struct {
	RenewalDate       time.Time      `json:"renewalDate"`
	UploadsLeft       int            `json:"uploadsLeft"`
	RecordingTimeLeft int            `json:"recordingTimeLeft"`
	Plan              plans.PlanView `json:"plan"`
}

func newProfile(u *auth.User, sub *ledger.Subscription) *Profile {
	p := &Profile{Name: u.Name, Email: u.Email}
	if sub != nil {
		p.Subscription = &SubscriptionView{
			RenewalDate:       sub.RenewalDate,
			UploadsLeft:       sub.UploadsLeft,
			RecordingTimeLeft: sub.RecordingTimeLeft,
			Plan:              sub.Plan.View(),
		}
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
