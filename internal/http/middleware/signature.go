// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the two authentication gates of the relay:
//
//   - WorkerAuth guards the task-queue endpoints with a shared key carried in
//     the "key" query parameter. An empty configured key disables the worker
//     API entirely rather than leaving it open.
//   - WebhookAuth guards the ingest endpoint with either (or both) of a
//     static "secret" query parameter and an HMAC-SHA256 signature over the
//     raw request body, carried in the X-Signature header. With neither
//     configured the endpoint is open, which is the expected posture behind a
//     private ingress.
//
// All comparisons are constant-time. Failures reply with the standard error
// envelope; the webhook gate uses 403 so the platform does not retry forever
// against a misconfigured secret.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderSignature carries the hex HMAC-SHA256 of the raw request body,
// optionally prefixed with "sha256=".
const HeaderSignature = "X-Signature"

// WorkerAuth returns a middleware enforcing the shared worker key.
//
// Behavior:
//   - configured key empty: every request is rejected with 403 (the worker
//     API is disabled, not open)
//   - "key" query parameter missing or wrong: 401
func WorkerAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			abortAuth(c, http.StatusForbidden, "forbidden", "worker api disabled")
			return
		}
		got := c.Query("key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "invalid worker key")
			return
		}
		c.Next()
	}
}

// WebhookAuthOptions configures the ingest gate. Zero value means open.
type WebhookAuthOptions struct {
	// Secret, when non-empty, must match the "secret" query parameter.
	Secret string

	// HMACKey, when non-empty, must verify the X-Signature header against
	// the raw request body.
	HMACKey string
}

// WebhookAuth returns a middleware verifying webhook authenticity.
//
// The HMAC check consumes the request body and restores it so downstream
// handlers can still read it in full.
func WebhookAuth(opt WebhookAuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opt.Secret != "" {
			got := c.Query("secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(opt.Secret)) != 1 {
				abortAuth(c, http.StatusForbidden, "forbidden", "invalid webhook secret")
				return
			}
		}

		if opt.HMACKey != "" {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				abortAuth(c, http.StatusForbidden, "forbidden", "unreadable body")
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))

			sig := strings.TrimPrefix(c.GetHeader(HeaderSignature), "sha256=")
			if !verifyHMAC(opt.HMACKey, body, sig) {
				abortAuth(c, http.StatusForbidden, "forbidden", "invalid signature")
				return
			}
		}

		c.Next()
	}
}

// verifyHMAC reports whether hexSig is the HMAC-SHA256 of body under key.
func verifyHMAC(key string, body []byte, hexSig string) bool {
	want, err := hex.DecodeString(hexSig)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// abortAuth writes the standard error envelope for an auth failure.
func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"message":    msg,
	})
}
