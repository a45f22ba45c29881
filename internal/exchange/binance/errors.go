package binance

import (
	"encoding/json"
	"strconv"
)

type errorEnvelope struct {
	Code *int64 `json:"code"`
	Msg  string `json:"msg"`
}

// ExtractError decodes Binance's {"code":-2010,"msg":"..."} error body.
func ExtractError(body []byte) (code, message string, ok bool) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == nil {
		return "", "", false
	}
	return strconv.FormatInt(*env.Code, 10), env.Msg, true
}
