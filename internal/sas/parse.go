package sas

import (
	"crypto/hmac"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Parsed is the decomposition of a token string.
type Parsed struct {
	Resource  string
	Hub       string
	Device    string
	Signature string
	KeyName   string
	ExpiresAt time.Time
}

// Parse splits a token produced by Sign back into its fields. Device is empty
// for service tokens.
func Parse(token string) (Parsed, error) {
	body, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return Parsed{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedToken, strings.TrimSpace(tokenPrefix))
	}

	var out Parsed
	var haveExpiry bool
	for _, part := range strings.Split(body, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Parsed{}, fmt.Errorf("%w: field %q", ErrMalformedToken, part)
		}
		switch key {
		case "sr":
			out.Resource = value
		case "sig":
			sig, err := url.QueryUnescape(value)
			if err != nil {
				return Parsed{}, fmt.Errorf("%w: sig: %v", ErrMalformedToken, err)
			}
			out.Signature = sig
		case "se":
			se, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("%w: se: %v", ErrMalformedToken, err)
			}
			out.ExpiresAt = time.Unix(se, 0).UTC()
			haveExpiry = true
		case "skn":
			out.KeyName = value
		}
	}
	if out.Resource == "" || out.Signature == "" || !haveExpiry {
		return Parsed{}, fmt.Errorf("%w: sr, sig and se are required", ErrMalformedToken)
	}

	host, device, _ := strings.Cut(out.Resource, devicesPath)
	hub, ok := strings.CutSuffix(host, hostSuffix)
	if !ok {
		return Parsed{}, fmt.Errorf("%w: unexpected resource %q", ErrMalformedToken, out.Resource)
	}
	out.Hub = hub
	out.Device = device
	return out, nil
}

// Verify parses token and checks its signature against secret. A token whose
// expiry is at or before now is rejected.
func Verify(secret, token string, now time.Time) (Parsed, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return Parsed{}, err
	}
	parsed, err := Parse(token)
	if err != nil {
		return Parsed{}, err
	}
	want := signature(key, parsed.Resource+"\n"+strconv.FormatInt(parsed.ExpiresAt.Unix(), 10))
	if !hmac.Equal([]byte(want), []byte(parsed.Signature)) {
		return Parsed{}, ErrSignatureMismatch
	}
	if !now.Before(parsed.ExpiresAt) {
		return Parsed{}, fmt.Errorf("%w: at %s", ErrTokenExpired, parsed.ExpiresAt.Format(time.RFC3339))
	}
	return parsed, nil
}
