package birdreport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// readSignedParams decrypts a signed request body back into its parameter map.
func readSignedParams(req *http.Request) (map[string]string, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	plaintext, err := decryptPayload(string(raw))
	if err != nil {
		return nil, err
	}
	var params map[string]string
	if err := json.Unmarshal(plaintext, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
