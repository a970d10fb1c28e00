// Package sas mints and parses SharedAccessSignature tokens for hub
// authentication.
//
// A token is an HMAC-SHA256 signature over a resource URI and an expiry
// timestamp, keyed by the base64 shared secret of a device or an access
// policy. Tokens are plain strings handed to the broker as the SASL PLAIN
// password.
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	hostSuffix   = ".azure-devices.net"
	devicesPath  = "%2Fdevices%2F"
	tokenPrefix  = "SharedAccessSignature "
	amqpsPort    = 5671
	secondsInDay = 24 * 60 * 60
)

var (
	ErrInvalidSecretEncoding = errors.New("sas: invalid secret encoding")
	ErrInvalidSecretLength   = errors.New("sas: invalid secret length")
	ErrInvalidRequest        = errors.New("sas: invalid token request")
	ErrMalformedToken        = errors.New("sas: malformed token")
	ErrSignatureMismatch     = errors.New("sas: signature mismatch")
	ErrTokenExpired          = errors.New("sas: token expired")
)

// Flavor selects the resource a token grants access to.
type Flavor int

const (
	// FlavorDevice scopes the token to one device identity.
	FlavorDevice Flavor = iota
	// FlavorService scopes the token to the hub through a shared access policy.
	FlavorService
)

func (f Flavor) String() string {
	switch f {
	case FlavorDevice:
		return "device"
	case FlavorService:
		return "service"
	default:
		return "unknown"
	}
}

// Request describes one token to mint. Identity is the device id for
// FlavorDevice and the policy name for FlavorService.
type Request struct {
	Hub          string
	Identity     string
	ValidityDays int
	Flavor       Flavor
}

// Credential is an immutable signed token. Renewal produces a new value.
type Credential struct {
	Identity  string
	Flavor    Flavor
	Token     string
	Signature string
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the credential expires before now+d.
func (c Credential) ExpiresWithin(d time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(d).Before(c.ExpiresAt)
}

// Sign mints a credential for req at the instant now.
func Sign(secret string, req Request, now time.Time) (Credential, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return Credential{}, err
	}
	hub := strings.TrimSpace(req.Hub)
	identity := strings.TrimSpace(req.Identity)
	if hub == "" || identity == "" {
		return Credential{}, fmt.Errorf("%w: hub and identity are required", ErrInvalidRequest)
	}
	if req.ValidityDays <= 0 {
		return Credential{}, fmt.Errorf("%w: validity days must be positive", ErrInvalidRequest)
	}

	expiry := now.Unix() + int64(req.ValidityDays)*secondsInDay

	var resource string
	switch req.Flavor {
	case FlavorDevice:
		resource = Hostname(hub) + devicesPath + identity
	case FlavorService:
		resource = Hostname(hub)
	default:
		return Credential{}, fmt.Errorf("%w: unknown flavor %d", ErrInvalidRequest, req.Flavor)
	}

	sig := signature(key, resource+"\n"+strconv.FormatInt(expiry, 10))
	encoded := url.Values{"sig": {sig}}.Encode()
	token := fmt.Sprintf("%ssr=%s&%s&se=%d&skn=%s", tokenPrefix, resource, encoded, expiry, identity)

	return Credential{
		Identity:  identity,
		Flavor:    req.Flavor,
		Token:     token,
		Signature: encoded,
		ExpiresAt: time.Unix(expiry, 0).UTC(),
	}, nil
}

// ValidateSecret checks that secret can key a signer.
func ValidateSecret(secret string) error {
	_, err := decodeSecret(secret)
	return err
}

func decodeSecret(secret string) ([]byte, error) {
	// Decoded as given; config.LoadSecret trims configured secrets.
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretEncoding, err)
	}
	// HMAC-SHA256 would take an empty key, but every token it signed would be
	// forgeable, so it is refused.
	if len(key) == 0 {
		return nil, ErrInvalidSecretLength
	}
	return key, nil
}

func signature(key []byte, toSign string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Hostname returns the public hostname of hub.
func Hostname(hub string) string {
	return strings.TrimSpace(hub) + hostSuffix
}

// Address returns the AMQPS endpoint of hub.
func Address(hub string) string {
	return fmt.Sprintf("amqps://%s:%d", Hostname(hub), amqpsPort)
}

// DeviceUsername is the SASL identity of a device.
func DeviceUsername(deviceID, hub string) string {
	return fmt.Sprintf("%s@sas.%s", deviceID, hub)
}

// ServiceUsername is the SASL identity of a shared access policy.
func ServiceUsername(policy, hub string) string {
	return fmt.Sprintf("%s@sas.root.%s", policy, hub)
}

// Signer mints credentials for one secret against a clock.
type Signer struct {
	secret string
	now    func() time.Time
}

// NewSigner validates secret up front so configuration errors surface at startup.
func NewSigner(secret string, now func() time.Time) (*Signer, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: secret, now: now}, nil
}

func (s *Signer) Sign(req Request) (Credential, error) {
	return Sign(s.secret, req, s.now())
}

// Now exposes the signer clock so renewal checks use the same time source.
func (s *Signer) Now() time.Time {
	return s.now()
}
