package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the body>"
	SignatureHeader = "X-Signature-256"
	// DeliveryHeader carries a unique id per delivery
	DeliveryHeader = "X-Delivery-ID"
	// EventHeader names the outbound event
	EventHeader = "X-Event"
)

// Sign returns the signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an HMAC SHA-256 signature in constant time
func VerifySignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

// ValidateSignatureHeader validates the shape of the signature header
func ValidateSignatureHeader(header string) error {
	if header == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}
	if !strings.HasPrefix(header, "sha256=") {
		return fmt.Errorf("invalid signature format, expected 'sha256=<hash>'")
	}
	return nil
}
