package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Receiver-side helpers for services consuming protect webhooks.

// VerifySignature checks a received signature header against the request
// body. The header is the hex tag with an optional "sha256=" prefix.
func VerifySignature(secret string, body []byte, header string) error {
	signature := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if signature == "" {
		return fmt.Errorf("webhooks: signature header is required")
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	if subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

// DeliveryID extracts the dedupe key from received headers.
func DeliveryID(headers map[string]string) (string, error) {
	if value := headerValue(headers, HeaderDelivery); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("webhooks: %s header is required for dedupe", HeaderDelivery)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
