package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-SHA256 authenticated requests
// against an exchange REST API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// SignQuery computes HMAC-SHA256 of a URL query string with the secret and
// returns the hex encoding. Binance-style endpoints append the result as the
// "signature" parameter.
func (h *HMACAuth) SignQuery(query string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload computes HMAC-SHA256 over timestamp+method+path+body and
// returns the base64 encoding, for venues that sign the full request payload.
func (h *HMACAuth) SignPayload(ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Timestamp returns the current time in milliseconds since the epoch, the
// format exchange APIs expect for signed requests.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
