package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// sign appends timestamp and recvWindow to params and returns the query
// string followed by its HMAC-SHA256 hex signature.
func sign(secret string, params url.Values, timestampMillis int64, recvWindow time.Duration) string {
	values := url.Values{}
	for k, v := range params {
		values[k] = append([]string(nil), v...)
	}
	if recvWindow > 0 {
		values.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	values.Set("timestamp", strconv.FormatInt(timestampMillis, 10))

	payload := values.Encode()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}
