// Package wallet defines the signing capability interface consumed by the transfer pipeline and implements the
// signing adapter around it. The capability mirrors the contract of a browser wallet extension (enable, offline
// signer, signAmino); this package does not implement key custody, it only delegates to a capability and
// normalizes what comes back. Different wallet versions return the public key and signature in different
// representations (raw byte array, base64 string or an already-tagged object), so the adapter normalizes both to
// the canonical tagged base64 form before anything travels further down the pipeline.
package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/odiseolabs/txflow/lib/tx"
)

// Errors reported by signing capabilities and the adapter.
var (
	ErrRejected     = errors.New("signature request rejected by the user")
	ErrNoCapability = errors.New("no signing capability in session")
	ErrNoPubKey     = errors.New("signed envelope carries no public key")
	ErrNoSignature  = errors.New("signed envelope carries no signature")
	ErrPubKeyShape  = errors.New("public key encoding not recognized")
	ErrSigShape     = errors.New("signature encoding not recognized")
)

// SignerAccount is an account the capability can sign for.
type SignerAccount struct {
	Address string `json:"address"`
	PubKey  []byte `json:"pubkey,omitempty"`
	Algo    string `json:"algo,omitempty"`
}

// OfflineSigner exposes the accounts a capability can sign for without ever exposing keys.
type OfflineSigner interface {
	Accounts(ctx context.Context) ([]SignerAccount, error)
}

// Capability is the wallet's signing contract. A capability that rejects a signature request on the user's behalf
// reports it by returning an error wrapping ErrRejected.
type Capability interface {
	Enable(ctx context.Context, chainID string) error
	OfflineSigner(ctx context.Context, chainID string) (OfflineSigner, error)
	SignAmino(ctx context.Context, chainID, address string, doc tx.UnsignedTx) (*RawEnvelope, error)
}

// RawSignature is the signature block as returned by a capability, before normalization.
type RawSignature struct {
	PubKey    json.RawMessage `json:"pub_key"`
	Signature json.RawMessage `json:"signature"`
}

// RawEnvelope is a capability's response to a signing request: the sign doc it actually signed plus the raw
// signature block.
type RawEnvelope struct {
	Signed    tx.UnsignedTx `json:"signed"`
	Signature RawSignature  `json:"signature"`
}

// Session is an explicit wallet connection value. It is passed into Sign rather than read from ambient state so
// the pipeline can be exercised without a browser environment.
type Session struct {
	ChainID string
	Address string
	Cap     Capability
}

// Sign hands the unsigned transaction to the session's capability and returns the normalized signed envelope.
// Failures are classified: a missing or locked capability is WalletUnavailable (user-actionable, not retryable
// until resolved externally), a rejection is UserRejected (terminal for this attempt, never retried
// automatically), anything else is SigningFailed. Exactly one SignAmino call is made per invocation.
func Sign(ctx context.Context, s Session, doc tx.UnsignedTx) (tx.SignedEnvelope, error) {
	if s.Cap == nil {
		return tx.SignedEnvelope{}, tx.E(tx.WalletUnavailable, s.Address, ErrNoCapability)
	}
	if err := s.Cap.Enable(ctx, s.ChainID); err != nil {
		return tx.SignedEnvelope{}, tx.E(tx.WalletUnavailable, s.Address, err)
	}

	raw, err := s.Cap.SignAmino(ctx, s.ChainID, s.Address, doc)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return tx.SignedEnvelope{}, tx.E(tx.UserRejected, s.Address, err)
		}
		return tx.SignedEnvelope{}, tx.E(tx.SigningFailed, s.Address, err)
	}

	pk, err := NormalizePubKey(raw.Signature.PubKey)
	if err != nil {
		return tx.SignedEnvelope{}, tx.E(tx.SigningFailed, s.Address, err)
	}
	sig, err := NormalizeSignature(raw.Signature.Signature)
	if err != nil {
		return tx.SignedEnvelope{}, tx.E(tx.SigningFailed, s.Address, err)
	}

	return tx.SignedEnvelope{
		Signed:    raw.Signed,
		Signature: tx.StdSignature{PubKey: pk, Signature: sig},
	}, nil
}

// taggedKey probes the already-tagged object representation of a public key or signature.
type taggedKey struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	Signature json.RawMessage `json:"signature"`
}

// NormalizePubKey converts any of the accepted public key representations (raw byte array, base64 string or
// tagged {type, value} object) to the canonical tagged base64 form.
func NormalizePubKey(raw json.RawMessage) (tx.PubKey, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return tx.PubKey{}, ErrNoPubKey
	}

	// already-tagged object: keep the tag, normalize the value
	var tk taggedKey
	if err := json.Unmarshal(raw, &tk); err == nil && tk.Type != "" && len(tk.Value) > 0 {
		val, err := toBase64(tk.Value)
		if err != nil {
			return tx.PubKey{}, fmt.Errorf("wallet: tagged public key: %w", err)
		}
		return tx.PubKey{Type: tk.Type, Value: val}, nil
	}

	val, err := toBase64(raw)
	if err != nil {
		return tx.PubKey{}, fmt.Errorf("wallet: %w: %s", ErrPubKeyShape, raw)
	}

	return tx.PubKey{Type: tx.PubKeySecp256k1, Value: val}, nil
}

// NormalizeSignature converts any of the accepted signature representations (raw byte array, base64 string or an
// object carrying a "signature" or "value" field) to a base64 string.
func NormalizeSignature(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoSignature
	}

	var tk taggedKey
	if err := json.Unmarshal(raw, &tk); err == nil {
		inner := tk.Signature
		if len(inner) == 0 {
			inner = tk.Value
		}
		if len(inner) > 0 {
			sig, err := toBase64(inner)
			if err != nil {
				return "", fmt.Errorf("wallet: tagged signature: %w", err)
			}
			return sig, nil
		}
	}

	sig, err := toBase64(raw)
	if err != nil {
		return "", fmt.Errorf("wallet: %w: %s", ErrSigShape, raw)
	}

	return sig, nil
}

// toBase64 turns a JSON base64 string or a JSON array of byte values into a validated base64 string.
func toBase64(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return "", fmt.Errorf("invalid base64 value: %w", err)
		}
		return s, nil
	}

	var nums []int
	if err := json.Unmarshal(raw, &nums); err == nil {
		b := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return "", fmt.Errorf("byte value %d out of range", n)
			}
			b[i] = byte(n)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	}

	return "", errors.New("neither base64 string nor byte array")
}
