package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/hublink/internal/testutil/testlog"
)

const testSecret = "AAAAAAAAAAAAAAAAAAAAAA=="

func TestSignDeviceScenario(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	cred, err := Sign(testSecret, Request{Hub: "h", Identity: "d", ValidityDays: 1, Flavor: FlavorDevice}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.Contains(cred.Token, "se=1700086400") {
		t.Fatalf("missing expiry: %q", cred.Token)
	}
	if !strings.Contains(cred.Token, "skn=d") {
		t.Fatalf("missing key name: %q", cred.Token)
	}
	if !strings.HasPrefix(cred.Token, "SharedAccessSignature sr=h.azure-devices.net%2Fdevices%2Fd&sig=") {
		t.Fatalf("unexpected token layout: %q", cred.Token)
	}
	if cred.ExpiresAt.Unix() != 1700086400 {
		t.Fatalf("unexpected expiry=%v", cred.ExpiresAt)
	}

	key, _ := base64.StdEncoding.DecodeString(testSecret)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("h.azure-devices.net%2Fdevices%2Fd\n1700086400"))
	want := "sig=" + url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	if cred.Signature != want {
		t.Fatalf("signature mismatch got=%q want=%q", cred.Signature, want)
	}
	if cred.Token != "SharedAccessSignature sr=h.azure-devices.net%2Fdevices%2Fd&"+want+"&se=1700086400&skn=d" {
		t.Fatalf("unexpected token: %q", cred.Token)
	}
}

func TestSignServiceFlavor(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	cred, err := Sign(testSecret, Request{Hub: "h", Identity: "service", ValidityDays: 2, Flavor: FlavorService}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	key, _ := base64.StdEncoding.DecodeString(testSecret)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("h.azure-devices.net\n1700172800"))
	sig := "sig=" + url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	want := "SharedAccessSignature sr=h.azure-devices.net&" + sig + "&se=1700172800&skn=service"
	if cred.Token != want {
		t.Fatalf("unexpected token got=%q want=%q", cred.Token, want)
	}
}

func TestSignDeterministic(t *testing.T) {
	testlog.Start(t)
	req := Request{Hub: "researchhub", Identity: "airquality", ValidityDays: 1, Flavor: FlavorDevice}
	now := time.Unix(1700000000, 0)
	a, err := Sign(testSecret, req, now)
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	b, err := Sign(testSecret, req, now)
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	if a.Token != b.Token {
		t.Fatalf("tokens differ for identical input:\n%s\n%s", a.Token, b.Token)
	}

	later, err := Sign(testSecret, req, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("sign later: %v", err)
	}
	pa, _ := Parse(a.Token)
	pl, _ := Parse(later.Token)
	if pl.Resource != pa.Resource || pl.KeyName != pa.KeyName {
		t.Fatalf("format changed with clock: %+v vs %+v", pa, pl)
	}
	if pl.ExpiresAt.Sub(pa.ExpiresAt) != time.Minute {
		t.Fatalf("expected expiry to advance by one minute: %v -> %v", pa.ExpiresAt, pl.ExpiresAt)
	}
	if pl.Signature == pa.Signature {
		t.Fatalf("expected signature to change with expiry")
	}
}

func TestParseRoundTrip(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1712345678, 0)
	cred, err := Sign(testSecret, Request{Hub: "researchprojecthub", Identity: "temperature", ValidityDays: 3}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := Parse(cred.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Hub != "researchprojecthub" || parsed.Device != "temperature" {
		t.Fatalf("unexpected identity: %+v", parsed)
	}
	if !parsed.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Fatalf("expiry mismatch parsed=%v cred=%v", parsed.ExpiresAt, cred.ExpiresAt)
	}
	if "sig="+url.QueryEscape(parsed.Signature) != cred.Signature {
		t.Fatalf("signature mismatch parsed=%q cred=%q", parsed.Signature, cred.Signature)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, token := range []string{
		"",
		"Bearer abc",
		"SharedAccessSignature sr=h.azure-devices.net&se=1",
		"SharedAccessSignature sr=example.com&sig=abc&se=1",
		"SharedAccessSignature sr=h.azure-devices.net&sig=abc&se=soon",
	} {
		if _, err := Parse(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("expected ErrMalformedToken for %q, got %v", token, err)
		}
	}
}

func TestSignRejectsBadSecret(t *testing.T) {
	testlog.Start(t)
	req := Request{Hub: "h", Identity: "d", ValidityDays: 1}
	if _, err := Sign("not base64!!", req, time.Now()); !errors.Is(err, ErrInvalidSecretEncoding) {
		t.Fatalf("expected ErrInvalidSecretEncoding, got %v", err)
	}
	if _, err := Sign("", req, time.Now()); !errors.Is(err, ErrInvalidSecretLength) {
		t.Fatalf("expected ErrInvalidSecretLength, got %v", err)
	}
	if _, err := Sign(" AAAAAAAAAAAAAAAAAAAAAA== ", req, time.Now()); !errors.Is(err, ErrInvalidSecretEncoding) {
		t.Fatalf("expected padded secret to be rejected, got %v", err)
	}
	if _, err := NewSigner("%%%", nil); !errors.Is(err, ErrInvalidSecretEncoding) {
		t.Fatalf("expected signer construction to validate secret, got %v", err)
	}
}

func TestSignRejectsIncompleteRequest(t *testing.T) {
	testlog.Start(t)
	if _, err := Sign(testSecret, Request{Identity: "d", ValidityDays: 1}, time.Now()); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing hub, got %v", err)
	}
	if _, err := Sign(testSecret, Request{Hub: "h", Identity: "d"}, time.Now()); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero validity, got %v", err)
	}
}

func TestSignerUsesClock(t *testing.T) {
	testlog.Start(t)
	fixed := time.Unix(1700000000, 0)
	signer, err := NewSigner(testSecret, func() time.Time { return fixed })
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	cred, err := signer.Sign(Request{Hub: "h", Identity: "d", ValidityDays: 1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if cred.ExpiresAt.Unix() != 1700086400 {
		t.Fatalf("unexpected expiry=%d", cred.ExpiresAt.Unix())
	}
	if !cred.ExpiresWithin(2*time.Hour, fixed.Add(23*time.Hour)) {
		t.Fatalf("expected credential to be inside renewal window")
	}
	if cred.ExpiresWithin(time.Hour, fixed) {
		t.Fatalf("fresh credential should not need renewal")
	}
}

func TestIdentityHelpers(t *testing.T) {
	testlog.Start(t)
	if got := DeviceUsername("airquality", "hub"); got != "airquality@sas.hub" {
		t.Fatalf("device username=%q", got)
	}
	if got := ServiceUsername("service", "hub"); got != "service@sas.root.hub" {
		t.Fatalf("service username=%q", got)
	}
	if got := Address("hub"); got != "amqps://hub.azure-devices.net:5671" {
		t.Fatalf("address=%q", got)
	}
}

func TestVerify(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	cred, err := Sign(testSecret, Request{Hub: "h", Identity: "d", ValidityDays: 1}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := Verify(testSecret, cred.Token, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if parsed.Device != "d" || parsed.Hub != "h" {
		t.Fatalf("unexpected parsed=%+v", parsed)
	}

	if _, err := Verify(testSecret, cred.Token, cred.ExpiresAt); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	other := base64.StdEncoding.EncodeToString([]byte("another-key-0123"))
	if _, err := Verify(other, cred.Token, now); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
	forged := strings.Replace(cred.Token, "se=1700086400", "se=1800000000", 1)
	if _, err := Verify(testSecret, forged, now); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for extended expiry, got %v", err)
	}
}
