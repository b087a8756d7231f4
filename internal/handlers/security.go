package handlers

import (
	"bytes"
	"io"
	"net/http"

	"sre-platform/internal/notify"
)

const signatureHeader = "X-Sentinel-Signature"

// validateSignature checks X-Sentinel-Signature against HMAC-SHA256(body,
// secret) and restores the body for the handler. An empty secret accepts
// unsigned requests.
func validateSignature(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return notify.VerifySignature(secret, sig, body)
}
