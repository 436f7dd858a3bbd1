package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

var errVerification = fmt.Errorf("webhook verification failed")

// verifySignatures checks the SHA-256 header first and accepts on a match.
// Otherwise it falls back to the legacy SHA-1 header when allowed.
//
// All errors are generic to prevent information leakage.
func verifySignatures(body []byte, secret, sha256Header, sha1Header string, allowSHA1 bool) error {
	if len(body) == 0 || secret == "" {
		return errVerification
	}
	if sha256Header != "" && verifyHMACSignature(body, sha256Header, secret, "sha256", sha256.New) == nil {
		return nil
	}
	if allowSHA1 && sha1Header != "" {
		return verifyHMACSignature(body, sha1Header, secret, "sha1", sha1.New)
	}
	return errVerification
}

// verifyHMACSignature verifies an "<algo>=<hex>" signature against the body
// using a constant-time comparison.
func verifyHMACSignature(body []byte, signature, secret, algo string, newHash func() hash.Hash) error {
	actualMAC, err := parseSignature(signature, algo)
	if err != nil {
		return errVerification
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), actualMAC) != 1 {
		return errVerification
	}
	return nil
}

// parseSignature splits "sha256=3a8f..." and decodes the hex digest. The
// algorithm prefix must match algo.
func parseSignature(signature, algo string) ([]byte, error) {
	name, hexSig, ok := strings.Cut(strings.TrimSpace(signature), "=")
	if !ok || !strings.EqualFold(name, algo) || hexSig == "" {
		return nil, errVerification
	}
	return hex.DecodeString(hexSig)
}

// computeSignature returns the "<algo>=<hex>" header value for body.
func computeSignature(body []byte, secret, algo string) string {
	newHash := sha256.New
	if algo == "sha1" {
		newHash = sha1.New
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return algo + "=" + hex.EncodeToString(mac.Sum(nil))
}
