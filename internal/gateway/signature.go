package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the callback signature the gateway attaches to a successful
// payment: hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature was produced by Sign with the
// same secret. The comparison is constant time and case sensitive.
func VerifySignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
