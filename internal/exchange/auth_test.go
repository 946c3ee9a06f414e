package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
)

func TestHeadersCarryAllAuthFields(t *testing.T) {
	t.Parallel()
	a := NewAuth("key-id", "secret", 5000)

	h := a.Headers(`{"category":"linear"}`)

	for _, k := range []string{"X-BAPI-API-KEY", "X-BAPI-TIMESTAMP", "X-BAPI-RECV-WINDOW", "X-BAPI-SIGN"} {
		if h[k] == "" {
			t.Errorf("header %s is empty", k)
		}
	}
	if h["X-BAPI-API-KEY"] != "key-id" {
		t.Errorf("api key = %q", h["X-BAPI-API-KEY"])
	}
	if h["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("recv window = %q", h["X-BAPI-RECV-WINDOW"])
	}
}

func TestHeadersSignatureVerifiable(t *testing.T) {
	t.Parallel()
	const secret = "test-secret"
	a := NewAuth("key-id", secret, 5000)

	payload := "category=linear&symbol=BTCUSDT"
	h := a.Headers(payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h["X-BAPI-TIMESTAMP"] + "key-id" + h["X-BAPI-RECV-WINDOW"] + payload))
	want := hex.EncodeToString(mac.Sum(nil))

	if h["X-BAPI-SIGN"] != want {
		t.Errorf("sign = %s, want %s", h["X-BAPI-SIGN"], want)
	}
}

func TestWSAuthArgs(t *testing.T) {
	t.Parallel()
	const secret = "test-secret"
	a := NewAuth("key-id", secret, 0)

	args := a.WSAuthArgs()
	if len(args) != 3 {
		t.Fatalf("args len = %d, want 3", len(args))
	}
	if args[0] != "key-id" {
		t.Errorf("args[0] = %v, want key-id", args[0])
	}

	expires, ok := args[1].(int64)
	if !ok {
		t.Fatalf("args[1] is %T, want int64", args[1])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	want := hex.EncodeToString(mac.Sum(nil))

	if args[2] != want {
		t.Errorf("signature = %v, want %s", args[2], want)
	}
}

func TestDefaultRecvWindow(t *testing.T) {
	t.Parallel()
	a := NewAuth("k", "s", 0)
	if h := a.Headers(""); h["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("default recv window = %q, want 5000", h["X-BAPI-RECV-WINDOW"])
	}
}
