package tx

import (
	"math/big"
	"strconv"
)

// Default fee configuration applied when FeeConfig fields are omitted.
const (
	DefaultGasLimit  uint64 = 200000
	DefaultFeeAmount string = "5000"
	DefaultFeeDenom  string = "uodis"
)

// FeeConfig carries the recognized fee options for building a transaction. Zero-valued fields fall back to the
// defaults above.
type FeeConfig struct {
	GasLimit  uint64 `json:"gasLimit"`
	FeeAmount string `json:"feeAmount"`
	FeeDenom  string `json:"feeDenom"`
}

// Correlation ties a broadcast transaction back to an application-level record: ID identifies the originating
// business transaction, ContentHash the artifact being referenced and Role the signer's function (e.g. "owner").
type Correlation struct {
	ID          string `json:"correlationId"`
	ContentHash string `json:"contentHash"`
	Role        string `json:"role"`
}

// Memo encodes the correlation as "<correlationId>:<contentHash>:<role>". Absent parts become empty segments so
// the memo always splits into exactly three segments on ":" and downstream parsers can rely on that shape.
func Memo(c Correlation) string {
	return c.ID + ":" + c.ContentHash + ":" + c.Role
}

// Build assembles a chain-correct unsigned transfer transaction from a freshly resolved account. It is
// deterministic and does no I/O: the same inputs always produce the same transaction. The amount is a decimal
// string in the fee denomination's base units; an amount that does not parse or is not strictly positive fails
// with InvalidAmount rather than producing a zero-value message.
func Build(chainID string, acc Account, recipient, amount string, fee FeeConfig, corr Correlation) (UnsignedTx, error) {
	if acc.Address == "" {
		return UnsignedTx{}, E(InvalidAmount, acc.Address, ErrNoSigner)
	}
	if recipient == "" {
		return UnsignedTx{}, E(InvalidAmount, acc.Address, ErrNoRecipient)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return UnsignedTx{}, E(InvalidAmount, acc.Address, ErrBadAmount)
	}
	if amt.Sign() <= 0 {
		return UnsignedTx{}, E(InvalidAmount, acc.Address, ErrAmountNotPositive)
	}

	if fee.GasLimit == 0 {
		fee.GasLimit = DefaultGasLimit
	}
	if fee.FeeAmount == "" {
		fee.FeeAmount = DefaultFeeAmount
	}
	if fee.FeeDenom == "" {
		fee.FeeDenom = DefaultFeeDenom
	}

	return UnsignedTx{
		AccountNumber: acc.AccountNumber,
		ChainID:       chainID,
		Fee: StdFee{
			Amount: []Coin{{Denom: fee.FeeDenom, Amount: fee.FeeAmount}},
			Gas:    strconv.FormatUint(fee.GasLimit, 10),
		},
		Memo: Memo(corr),
		Msgs: []SigningMsg{{
			TypeURL: MsgSendURL,
			Send: MsgSend{
				FromAddress: acc.Address,
				ToAddress:   recipient,
				Amount:      []Coin{{Denom: fee.FeeDenom, Amount: amt.String()}},
			},
		}},
		Sequence: acc.Sequence,
	}, nil
}
