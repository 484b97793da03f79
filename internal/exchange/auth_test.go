package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

func TestAuthHeaders(t *testing.T) {
	t.Parallel()

	a := NewAuth("key", base64.StdEncoding.EncodeToString([]byte("s3cret")))
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	h, err := a.Headers("POST", "/markets/m1/orders", `{"orders":[]}`)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(`1700000000POST/markets/m1/orders{"orders":[]}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if h[HeaderSignature] != want {
		t.Errorf("signature = %q, want %q", h[HeaderSignature], want)
	}
	if h[HeaderTimestamp] != "1700000000" {
		t.Errorf("timestamp = %q", h[HeaderTimestamp])
	}
	if h[HeaderAPIKey] != "key" {
		t.Errorf("api key = %q", h[HeaderAPIKey])
	}
}

func TestAuthRawSecret(t *testing.T) {
	t.Parallel()

	// not valid base64 in any alphabet
	a := NewAuth("key", "not base64!")
	a.now = func() time.Time { return time.Unix(1, 0) }

	h, err := a.Headers("GET", "/account/balance", "")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	mac := hmac.New(sha256.New, []byte("not base64!"))
	mac.Write([]byte("1GET/account/balance"))
	if h[HeaderSignature] != base64.URLEncoding.EncodeToString(mac.Sum(nil)) {
		t.Error("raw secret not used as key")
	}
}

func TestAuthEmptySecret(t *testing.T) {
	t.Parallel()

	a := NewAuth("key", "")
	if a.HasCredentials() {
		t.Error("HasCredentials() = true with empty secret")
	}
	if _, err := a.Headers("GET", "/", ""); err == nil {
		t.Error("expected error for empty secret")
	}
}
