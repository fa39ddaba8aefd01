// Package tx implements the data model of an Odiseo transfer transaction: the on-chain account, the two wire
// encodings of a transfer message (the wallet's flattened signing shape and the node's nested broadcast shape),
// the unsigned transaction used as amino sign doc, the signed envelope returned by wallets, the deterministic
// transaction builder and the converter between message shapes.
package tx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type identifiers. The broadcast form is keyed by the canonical type URL, the legacy amino form by the
// amino route name.
const (
	MsgSendURL   = "/cosmos.bank.v1beta1.MsgSend"
	MsgSendAmino = "cosmos-sdk/MsgSend"
)

// PubKeySecp256k1 is the canonical public key type downstream consumers expect after normalization.
const PubKeySecp256k1 = "tendermint/PubKeySecp256k1"

// Error codes.
var (
	ErrNoMsgs            = errors.New("transaction must carry at least one message")
	ErrNoRecipient       = errors.New("transfer has no recipient address")
	ErrNoSigner          = errors.New("account has no address")
	ErrAmountNotPositive = errors.New("transfer amount must be greater than zero")
	ErrBadAmount         = errors.New("transfer amount is not a decimal number")
	ErrUnknownMsgType    = errors.New("message type not in the conversion table")
	ErrMsgShape          = errors.New("message data does not match any known shape")
)

// Coin is an amount of a given denomination. Amount is a decimal string to avoid precision loss.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// StdFee is the fee block of an unsigned transaction.
type StdFee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// Account is the on-chain state of a signer address. AccountNumber and Sequence are decimal strings, never
// integers: the sequence increments with every chain-accepted transaction and must be re-resolved before each
// build.
type Account struct {
	Address       string `json:"address"`
	AccountNumber string `json:"account_number"`
	Sequence      string `json:"sequence"`
}

// MsgSend is a decoded transfer instruction, independent of wire shape.
type MsgSend struct {
	FromAddress string
	ToAddress   string
	Amount      []Coin
}

// SigningMsg is the tagged variant of a message in the wallet's signing shape. It marshals to the flattened
// "@type" snake_case encoding and unmarshals from either that encoding or the legacy nested {type, value} amino
// encoding.
type SigningMsg struct {
	TypeURL string
	Send    MsgSend
}

// BroadcastValue is the camelCase message body of the broadcast shape.
type BroadcastValue struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      []Coin `json:"amount"`
}

// BroadcastMsg is the tagged variant of a message in the node's broadcast shape: camelCase fields nested under a
// type URL.
type BroadcastMsg struct {
	TypeURL string         `json:"typeUrl"`
	Value   BroadcastValue `json:"value"`
}

// UnsignedTx is a chain-correct unsigned transaction. It doubles as the amino sign doc handed to the wallet, so
// the fields are declared in alphabetical order: the canonical sign doc encoding sorts object keys and
// encoding/json emits struct fields in declaration order.
type UnsignedTx struct {
	AccountNumber string       `json:"account_number"`
	ChainID       string       `json:"chain_id"`
	Fee           StdFee       `json:"fee"`
	Memo          string       `json:"memo"`
	Msgs          []SigningMsg `json:"msgs"`
	Sequence      string       `json:"sequence"`
}

// PubKey is a normalized public key: type tag plus base64 value.
type PubKey struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StdSignature is a normalized signature block: tagged public key and base64 signature string. Raw byte arrays
// cannot travel over the node's JSON transport, so wallets' envelopes are normalized to this form before use.
type StdSignature struct {
	PubKey    PubKey `json:"pub_key"`
	Signature string `json:"signature"`
}

// SignedEnvelope is the wallet's response to a signing request: the sign doc it actually signed plus the
// normalized signature block.
type SignedEnvelope struct {
	Signed    UnsignedTx   `json:"signed"`
	Signature StdSignature `json:"signature"`
}

// signingWire covers both accepted signing encodings in one probe struct: the flattened "@type" shape carries the
// message fields at top level, the legacy shape nests them under "value".
type signingWire struct {
	Type   string          `json:"@type,omitempty"`
	From   string          `json:"from_address,omitempty"`
	To     string          `json:"to_address,omitempty"`
	Amount []Coin          `json:"amount,omitempty"`
	Legacy string          `json:"type,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// sendWire is the snake_case body of a MsgSend in signing form.
type sendWire struct {
	From   string `json:"from_address"`
	To     string `json:"to_address"`
	Amount []Coin `json:"amount"`
}

// MarshalJSON emits the flattened "@type" snake_case signing encoding.
func (m SigningMsg) MarshalJSON() ([]byte, error) {
	if m.TypeURL != MsgSendURL {
		return nil, fmt.Errorf("tx: cannot marshal signing message %q: %w", m.TypeURL, ErrUnknownMsgType)
	}
	return json.Marshal(struct {
		Type   string `json:"@type"`
		From   string `json:"from_address"`
		To     string `json:"to_address"`
		Amount []Coin `json:"amount"`
	}{Type: m.TypeURL, From: m.Send.FromAddress, To: m.Send.ToAddress, Amount: m.Send.Amount})
}

// UnmarshalJSON accepts the flattened "@type" shape and the legacy nested {type, value} shape. An unrecognized
// type tag is a hard error, never a silent pass-through.
func (m *SigningMsg) UnmarshalJSON(b []byte) error {
	var w signingWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("tx: cannot decode signing message: %w", err)
	}

	switch {
	case w.Type != "":
		if w.Type != MsgSendURL {
			return fmt.Errorf("tx: signing message type %q: %w", w.Type, ErrUnknownMsgType)
		}
		m.TypeURL = w.Type
		m.Send = MsgSend{FromAddress: w.From, ToAddress: w.To, Amount: w.Amount}

		return nil
	case w.Legacy != "":
		url, ok := aminoToURL[w.Legacy]
		if !ok {
			return fmt.Errorf("tx: legacy message type %q: %w", w.Legacy, ErrUnknownMsgType)
		}

		var v sendWire
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return fmt.Errorf("tx: cannot decode legacy message value: %w", err)
		}
		m.TypeURL = url
		m.Send = MsgSend{FromAddress: v.From, ToAddress: v.To, Amount: v.Amount}

		return nil
	}

	return fmt.Errorf("tx: %w", ErrMsgShape)
}
