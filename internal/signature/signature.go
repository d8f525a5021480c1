package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/smallbiznis/reconciler/internal/config"
)

const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

var (
	ErrMissingSecret      = errors.New("missing_shared_secret")
	ErrMissingTransaction = errors.New("missing_transaction_id")
	ErrMissingSignature   = errors.New("missing_signature")
	ErrMalformedSignature = errors.New("malformed_signature")
	ErrMismatch           = errors.New("signature_mismatch")
	ErrUnknownAlgorithm   = errors.New("unknown_signature_algorithm")
)

// Verifier authenticates an inbound notification. The returned error names
// the rejection reason and is meant for server-side logs only.
type Verifier interface {
	Verify(providerTransactionID, presentedSignature string) error
	Algorithm() string
}

// HMACVerifier checks hex(HMAC(secret, providerTransactionID)).
type HMACVerifier struct {
	secret    string
	algorithm string
	newHash   func() hash.Hash
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	return NewHMACVerifier(cfg.Webhook.SharedSecret, cfg.Webhook.SignatureAlgorithm)
}

func NewHMACVerifier(secret, algorithm string) (*HMACVerifier, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmSHA1
	}
	newHash, err := hashFor(algorithm)
	if err != nil {
		return nil, err
	}
	return &HMACVerifier{
		secret:    secret,
		algorithm: algorithm,
		newHash:   newHash,
	}, nil
}

func (v *HMACVerifier) Algorithm() string {
	return v.algorithm
}

func (v *HMACVerifier) Verify(providerTransactionID, presentedSignature string) error {
	if strings.TrimSpace(v.secret) == "" {
		return ErrMissingSecret
	}
	if strings.TrimSpace(providerTransactionID) == "" {
		return ErrMissingTransaction
	}
	presentedSignature = strings.TrimSpace(presentedSignature)
	if presentedSignature == "" {
		return ErrMissingSignature
	}

	presented, err := hex.DecodeString(presentedSignature)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(v.newHash, []byte(v.secret))
	mac.Write([]byte(providerTransactionID))
	if !hmac.Equal(mac.Sum(nil), presented) {
		return ErrMismatch
	}
	return nil
}

// Sign returns the hex signature for providerTransactionID.
func (v *HMACVerifier) Sign(providerTransactionID string) string {
	mac := hmac.New(v.newHash, []byte(v.secret))
	mac.Write([]byte(providerTransactionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether presentedSignature authenticates providerTransactionID
// under the legacy HMAC-SHA1 scheme.
func Verify(providerTransactionID, presentedSignature, sharedSecret string) bool {
	v, err := NewHMACVerifier(sharedSecret, AlgorithmSHA1)
	if err != nil {
		return false
	}
	return v.Verify(providerTransactionID, presentedSignature) == nil
}

func hashFor(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
}
