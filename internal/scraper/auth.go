package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// AuthMethod names how a site authenticates.
type AuthMethod string

// Supported authentication methods.
const (
	AuthNone AuthMethod = "none"
	AuthHTTP AuthMethod = "http"
	AuthForm AuthMethod = "form"
)

// ErrFormAuthUnsupported is returned when a site asks for form login.
var ErrFormAuthUnsupported = errors.New("form authentication is not supported")

// Credentials are a username and password pair.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Auth describes a site's authentication. FormLink and FormRoutine only
// apply to AuthForm.
type Auth struct {
	Method      AuthMethod      `json:"method" yaml:"method"`
	Credentials Credentials     `json:"creds" yaml:"creds"`
	FormLink    string          `json:"link,omitempty" yaml:"link,omitempty"`
	FormRoutine routine.Routine `json:"routine,omitempty" yaml:"routine,omitempty"`
}

// Active reports whether a is set to something other than AuthNone.
func (a *Auth) Active() bool {
	return a != nil && a.Method != "" && a.Method != AuthNone
}

// CanFetch reports whether r and auth can be served from static HTML: a
// single action-free step, with no auth or HTTP auth only.
func CanFetch(r routine.Routine, auth *Auth) bool {
	if !r.IsStatic() {
		return false
	}
	return !auth.Active() || auth.Method == AuthHTTP
}

// Authenticate applies auth to page.
func Authenticate(ctx context.Context, page webpage.Page, auth *Auth) (bool, error) {
	if !auth.Active() {
		return true, nil
	}
	switch auth.Method {
	case AuthHTTP:
		ok, err := page.AuthenticateHTTP(ctx, auth.Credentials.Username, auth.Credentials.Password)
		if err != nil {
			return false, fmt.Errorf("http authentication: %w", err)
		}
		return ok, nil
	case AuthForm:
		return false, ErrFormAuthUnsupported
	default:
		return false, fmt.Errorf("unknown authentication method %q", auth.Method)
	}
}
