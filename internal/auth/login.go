// Package auth checks agent sign-in attempts against the configured demo
// credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"supportdesk/internal/bus"
	"supportdesk/internal/metrics"
)

var (
	ErrInvalidCredentials = errors.New("Invalid email or password. Please try again.")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
)

const minPasswordLength = 6

// LoginForm is the sign-in request of an agent.
type LoginForm struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// ValidationError carries one message per invalid form field.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid login form: " + strings.Join(parts, "; ")
}

// Validate checks the form fields before any credential comparison.
func (f LoginForm) Validate() error {
	fields := make(map[string]string)

	email := strings.TrimSpace(f.Email)
	if email == "" {
		fields["email"] = "Email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "Please enter a valid email address"
	}

	switch {
	case f.Password == "":
		fields["password"] = "Password is required"
	case len(f.Password) < minPasswordLength:
		fields["password"] = fmt.Sprintf("Password must be at least %d characters", minPasswordLength)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Session is the result of a successful sign-in. The id is for display only.
type Session struct {
	ID         string    `json:"sessionId"`
	Email      string    `json:"email"`
	RememberMe bool      `json:"rememberMe"`
	Redirect   string    `json:"redirect"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Options configures an Authenticator.
type Options struct {
	Email    string
	Password string
	// Delay is waited before every credential check.
	Delay         time.Duration
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Bus           *bus.EventBus
}

// Authenticator validates sign-in attempts.
type Authenticator struct {
	email    []byte
	password []byte
	delay    time.Duration
	limiter  *limiterPool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bus      *bus.EventBus
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator for one credential pair.
func NewAuthenticator(opts Options) *Authenticator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 0.2
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &Authenticator{
		email:    []byte(opts.Email),
		password: []byte(opts.Password),
		delay:    opts.Delay,
		limiter:  newLimiterPool(opts.RatePerSecond, opts.Burst),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		now:      time.Now,
	}
}

// Login validates form and compares it with the configured credentials.
// clientKey identifies the caller for throttling, usually its remote address.
func (a *Authenticator) Login(ctx context.Context, clientKey string, form LoginForm) (*Session, error) {
	if err := form.Validate(); err != nil {
		a.metrics.LoginAttempt("invalid")
		return nil, err
	}
	if !a.limiter.Allow(clientKey) {
		a.metrics.LoginAttempt("throttled")
		a.logger.Warn("login throttled", "client", clientKey)
		return nil, ErrTooManyAttempts
	}

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	// Case-sensitive; only the surrounding whitespace Validate ignores is dropped.
	email := strings.TrimSpace(form.Email)
	emailOK := subtle.ConstantTimeCompare([]byte(email), a.email) == 1
	passOK := subtle.ConstantTimeCompare([]byte(form.Password), a.password) == 1
	if !emailOK || !passOK {
		a.metrics.LoginAttempt("failure")
		a.logger.Info("login failed", "client", clientKey)
		a.publish(bus.EventLoginFailed, email)
		return nil, ErrInvalidCredentials
	}

	s := &Session{
		ID:         uuid.NewString(),
		Email:      email,
		RememberMe: form.RememberMe,
		Redirect:   "/",
		CreatedAt:  a.now(),
	}
	a.metrics.LoginAttempt("success")
	a.logger.Info("login succeeded", "client", clientKey, "session", s.ID)
	a.publish(bus.EventLoginSucceeded, email)
	return s, nil
}

// Close stops background limiter maintenance.
func (a *Authenticator) Close() {
	a.limiter.Shutdown()
}

// publish notifies observers without holding up the login response.
func (a *Authenticator) publish(eventType, email string) {
	if a.bus == nil {
		return
	}
	a.bus.EmitAsync(bus.Event{Type: eventType, Source: "auth", Payload: email})
}
