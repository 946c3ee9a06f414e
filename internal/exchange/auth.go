package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Auth signs destination-venue requests with the account's API key pair.
//
// Every private REST request carries four headers:
//
//	X-BAPI-API-KEY:     the key id
//	X-BAPI-TIMESTAMP:   unix millis at send time
//	X-BAPI-RECV-WINDOW: tolerated clock skew in millis
//	X-BAPI-SIGN:        hex HMAC-SHA256 over timestamp+key+window+payload
//
// where payload is the raw query string for GETs and the JSON body for
// POSTs. The private WebSocket authenticates once per connection with an
// expiring signature over "GET/realtime<expires>".
type Auth struct {
	apiKey     string
	apiSecret  string
	recvWindow int
}

// NewAuth creates a signer for one account's credentials.
func NewAuth(apiKey, apiSecret string, recvWindowMs int) *Auth {
	if recvWindowMs <= 0 {
		recvWindowMs = 5000
	}
	return &Auth{apiKey: apiKey, apiSecret: apiSecret, recvWindow: recvWindowMs}
}

// APIKey returns the key id (used in logs and WS auth payloads).
func (a *Auth) APIKey() string { return a.apiKey }

// Headers signs one request. payload is the query string (GET) or JSON
// body (POST); empty is valid.
func (a *Auth) Headers(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	window := strconv.Itoa(a.recvWindow)
	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": window,
		"X-BAPI-SIGN":        a.sign(ts + a.apiKey + window + payload),
	}
}

// WSAuthArgs returns the [apiKey, expires, signature] triple for the
// private WebSocket auth op. expires is absolute unix millis.
func (a *Auth) WSAuthArgs() []any {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	sig := a.sign("GET/realtime" + strconv.FormatInt(expires, 10))
	return []any{a.apiKey, expires, sig}
}

func (a *Auth) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
