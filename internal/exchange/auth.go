package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names of the venue's API-key authentication.
const (
	HeaderAPIKey    = "MM-API-KEY"
	HeaderSignature = "MM-SIGNATURE"
	HeaderTimestamp = "MM-TIMESTAMP"
)

// Auth signs REST requests with the API secret (HMAC-SHA256 over
// "timestamp + method + path [+ body]").
type Auth struct {
	apiKey string
	secret string
	now    func() time.Time
}

// NewAuth creates an Auth from an API key pair. The secret is base64 in any
// of the common alphabets, or raw bytes if it does not decode.
func NewAuth(apiKey, secret string) *Auth {
	return &Auth{apiKey: apiKey, secret: secret, now: time.Now}
}

// HasCredentials returns whether both halves of the key pair are set.
func (a *Auth) HasCredentials() bool {
	return a.apiKey != "" && a.secret != ""
}

// Headers generates the authentication headers for one request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(a.now().Unix(), 10)

	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		HeaderAPIKey:    a.apiKey,
		HeaderSignature: sig,
		HeaderTimestamp: timestamp,
	}, nil
}

func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	if a.secret == "" {
		return "", fmt.Errorf("empty api secret")
	}
	key := decodeSecret(a.secret)

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(secret string) []byte {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, dec := range decoders {
		if b, err := dec.DecodeString(secret); err == nil {
			return b
		}
	}
	return []byte(secret)
}
