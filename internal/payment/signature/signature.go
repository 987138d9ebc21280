// Package signature implements the HMAC-SHA256 request signing scheme used by
// the hosted checkout gateway for outbound calls and inbound notifications.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderClientID  = "Client-Id"
	HeaderRequestID = "Request-Id"
	HeaderTimestamp = "Request-Timestamp"
	HeaderSignature = "Signature"
	HeaderDigest    = "Digest"

	// TimestampLayout is UTC ISO8601 without fractional seconds.
	TimestampLayout = "2006-01-02T15:04:05Z"

	prefix       = "HMACSHA256="
	digestPrefix = "SHA-256="
)

var (
	ErrMissingHeaders    = errors.New("signature headers missing")
	ErrMissingSecret     = errors.New("signature secret missing")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

type Components struct {
	ClientID      string
	RequestID     string
	Timestamp     string
	RequestTarget string
	Digest        string
}

// String renders the newline-joined component string that is fed to the HMAC.
func (c Components) String() string {
	var b strings.Builder
	b.WriteString("Client-Id:" + c.ClientID + "\n")
	b.WriteString("Request-Id:" + c.RequestID + "\n")
	b.WriteString("Request-Timestamp:" + c.Timestamp + "\n")
	b.WriteString("Request-Target:" + c.RequestTarget + "\n")
	b.WriteString("Digest:" + digestPrefix + c.Digest)
	return b.String()
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Digest returns base64(SHA-256(body)). An empty body still hashes.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func Sign(c Components, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(c.String()))
	return prefix + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func SignRequest(clientID, requestID, timestamp, target string, body []byte, secret string) string {
	return Sign(Components{
		ClientID:      clientID,
		RequestID:     requestID,
		Timestamp:     timestamp,
		RequestTarget: target,
		Digest:        Digest(body),
	}, secret)
}

// Verify recomputes the signature from the received headers and body and
// compares it in constant time with the Signature header.
func Verify(headers http.Header, target string, body []byte, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return ErrMissingSecret
	}

	clientID := strings.TrimSpace(headers.Get(HeaderClientID))
	requestID := strings.TrimSpace(headers.Get(HeaderRequestID))
	timestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	received := strings.TrimSpace(headers.Get(HeaderSignature))
	if clientID == "" || requestID == "" || timestamp == "" || received == "" {
		return ErrMissingHeaders
	}

	expected := SignRequest(clientID, requestID, timestamp, target, body, secret)
	if !hmac.Equal([]byte(received), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// DigestMatches compares the Digest header with the body. A missing header
// counts as a mismatch.
func DigestMatches(headers http.Header, body []byte) bool {
	received := strings.TrimSpace(headers.Get(HeaderDigest))
	received = strings.TrimPrefix(received, digestPrefix)
	if received == "" {
		return false
	}
	return hmac.Equal([]byte(received), []byte(Digest(body)))
}

// DigestHeader renders the Digest header value for body.
func DigestHeader(body []byte) string {
	return digestPrefix + Digest(body)
}

// Apply sets the signing headers for an outbound request.
func Apply(headers http.Header, clientID, requestID, timestamp, target string, body []byte, secret string) {
	headers.Set(HeaderClientID, clientID)
	headers.Set(HeaderDigest, DigestHeader(body))
	headers.Set(HeaderRequestID, requestID)
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderSignature, SignRequest(clientID, requestID, timestamp, target, body, secret))
}
