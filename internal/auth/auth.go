// Package auth guards the device admin surface.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/hublink/internal/sas"
	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// DeviceToken accepts an unexpired SAS token signed with the device key and
// scoped to the device itself.
type DeviceToken struct {
	Secret   string
	Hub      string
	DeviceID string
	Now      func() time.Time
}

func (d DeviceToken) Validate(token string) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	parsed, err := sas.Verify(d.Secret, token, now())
	if err != nil {
		return errors.Join(ErrUnauthorized, err)
	}
	if parsed.Hub != d.Hub || parsed.Device != d.DeviceID {
		return ErrUnauthorized
	}
	return nil
}

// AnyOf accepts a token any of its validators accept.
type AnyOf []Validator

func (a AnyOf) Validate(token string) error {
	for _, v := range a {
		if v != nil && v.Validate(token) == nil {
			return nil
		}
	}
	return ErrUnauthorized
}

// BearerToken extracts the credential from an Authorization header. SAS
// tokens are accepted bare since they carry their own scheme.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if strings.HasPrefix(header, "SharedAccessSignature ") {
		return header, true
	}
	return "", false
}

// Require aborts requests whose Authorization header v rejects.
func Require(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}
