package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/hublink/internal/sas"
	"github.com/danmuck/hublink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

const testSecret = "AAAAAAAAAAAAAAAAAAAAAA=="

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDeviceTokenValidate(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	v := DeviceToken{Secret: testSecret, Hub: "h", DeviceID: "d", Now: clock}

	own, err := sas.Sign(testSecret, sas.Request{Hub: "h", Identity: "d", ValidityDays: 1}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.Validate(own.Token); err != nil {
		t.Fatalf("own token rejected: %v", err)
	}

	other, _ := sas.Sign(testSecret, sas.Request{Hub: "h", Identity: "d2", ValidityDays: 1}, now)
	if err := v.Validate(other.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected other device rejected, got %v", err)
	}
	expired := DeviceToken{Secret: testSecret, Hub: "h", DeviceID: "d", Now: func() time.Time { return now.Add(48 * time.Hour) }}
	if err := expired.Validate(own.Token); !errors.Is(err, sas.ErrTokenExpired) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired rejection, got %v", err)
	}
}

func TestAnyOf(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0)
	cred, err := sas.Sign(testSecret, sas.Request{Hub: "h", Identity: "d", ValidityDays: 1}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	v := AnyOf{nil, StaticToken{Token: "abc"}, DeviceToken{Secret: testSecret, Hub: "h", DeviceID: "d", Now: func() time.Time { return now }}}
	for _, token := range []string{"abc", cred.Token} {
		if err := v.Validate(token); err != nil {
			t.Fatalf("token %q rejected: %v", token, err)
		}
	}
	if err := v.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := (AnyOf{}).Validate("abc"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty AnyOf must reject, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"Bearer abc":                       "abc",
		"  Bearer  abc ":                   "abc",
		"SharedAccessSignature sr=x&sig=y": "SharedAccessSignature sr=x&sig=y",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if !ok || got != want {
			t.Fatalf("header %q: got %q ok=%v", header, got, ok)
		}
	}
	for _, header := range []string{"", "Bearer ", "Basic Zm9v"} {
		if _, ok := BearerToken(header); ok {
			t.Fatalf("header %q must not yield a token", header)
		}
	}
}

func TestRequireMiddleware(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/links", Require(StaticToken{Token: "abc"}), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/links", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/links", nil)
	req.Header.Set("Authorization", "Bearer abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status=%d", w.Code)
	}
}
