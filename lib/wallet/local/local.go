// Package local implements a signing capability backed by a local HD wallet seed. It exists so the pipeline can
// run and be tested end to end without a browser wallet extension; it is a development capability, not a custody
// system. Keys are derived from the configured seed and the amino sign doc is signed with deterministic ECDSA over
// the SHA-256 of its canonical JSON encoding.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tarancss/hd"

	"github.com/odiseolabs/txflow/lib/tx"
	"github.com/odiseolabs/txflow/lib/wallet"
)

// Signer is a local signing capability for a single configured address.
type Signer struct {
	address string
	priv    []byte
	pub     []byte // compressed, 33 bytes
}

// New derives the signing key for the first external account of the HD wallet seeded with seedHex and binds it to
// the given bech32 address.
func New(seedHex, address string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("local: cannot decode seed: %w", err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		return nil, fmt.Errorf("local: cannot init HD wallet: %w", err)
	}

	_, key, _, err := hdw.Address(0, hd.External, 0)
	if err != nil {
		return nil, fmt.Errorf("local: cannot derive signing key: %w", err)
	}

	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("local: derived key is not a valid secp256k1 key: %w", err)
	}

	return &Signer{
		address: address,
		priv:    key,
		pub:     crypto.CompressPubkey(&priv.PublicKey),
	}, nil
}

// Enable is a no-op: a local capability has no unlock step.
func (s *Signer) Enable(ctx context.Context, chainID string) error {
	return nil
}

// OfflineSigner returns the signer itself, which exposes its single account.
func (s *Signer) OfflineSigner(ctx context.Context, chainID string) (wallet.OfflineSigner, error) {
	return s, nil
}

// Accounts returns the single account this capability signs for.
func (s *Signer) Accounts(ctx context.Context) ([]wallet.SignerAccount, error) {
	return []wallet.SignerAccount{{Address: s.address, PubKey: s.pub, Algo: "secp256k1"}}, nil
}

// SignAmino signs the canonical JSON encoding of the sign doc and returns the envelope with a tagged base64
// public key and a base64 signature, the same shapes a well-behaved wallet extension returns.
func (s *Signer) SignAmino(ctx context.Context, chainID, address string, doc tx.UnsignedTx) (*wallet.RawEnvelope, error) {
	if address != s.address {
		return nil, fmt.Errorf("local: no key for address %s", address)
	}
	if chainID != doc.ChainID {
		return nil, fmt.Errorf("local: sign doc chain id %s does not match requested %s", doc.ChainID, chainID)
	}

	// UnsignedTx declares its fields in alphabetical order, so this is the canonical sorted-key encoding.
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("local: cannot encode sign doc: %w", err)
	}

	priv, err := crypto.ToECDSA(s.priv)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}

	digest := sha256.Sum256(docJSON)

	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("local: signing failed: %w", err)
	}
	// drop the recovery byte, chain signatures are the 64-byte r||s form
	sig = sig[:64]

	pubJSON, err := json.Marshal(tx.PubKey{Type: tx.PubKeySecp256k1, Value: base64.StdEncoding.EncodeToString(s.pub)})
	if err != nil {
		return nil, fmt.Errorf("local: cannot encode public key: %w", err)
	}
	sigJSON, err := json.Marshal(base64.StdEncoding.EncodeToString(sig))
	if err != nil {
		return nil, fmt.Errorf("local: cannot encode signature: %w", err)
	}

	return &wallet.RawEnvelope{
		Signed:    doc,
		Signature: wallet.RawSignature{PubKey: pubJSON, Signature: sigJSON},
	}, nil
}
