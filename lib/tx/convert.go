package tx

// aminoToURL is the conversion table from legacy amino route names to canonical broadcast type URLs. Conversions
// are keyed by this table and by the known type URLs; an unrecognized tag is rejected, the converter never guesses
// a mapping structurally.
var aminoToURL = map[string]string{
	MsgSendAmino: MsgSendURL,
}

// ToBroadcastForm translates a signing-shape message into the node's broadcast shape: same data, camelCase field
// names nested under the type URL. It is total over the recognized message-type set and fails with
// UnsupportedMsgType otherwise, never returning a partially converted message.
func ToBroadcastForm(m SigningMsg) (BroadcastMsg, error) {
	switch m.TypeURL {
	case MsgSendURL:
		return BroadcastMsg{
			TypeURL: MsgSendURL,
			Value: BroadcastValue{
				FromAddress: m.Send.FromAddress,
				ToAddress:   m.Send.ToAddress,
				Amount:      m.Send.Amount,
			},
		}, nil
	}

	return BroadcastMsg{}, E(UnsupportedMsgType, m.TypeURL, ErrUnknownMsgType)
}

// ToSigningForm is the inverse of ToBroadcastForm. The round trip through both is lossless for every supported
// message type.
func ToSigningForm(m BroadcastMsg) (SigningMsg, error) {
	switch m.TypeURL {
	case MsgSendURL:
		return SigningMsg{
			TypeURL: MsgSendURL,
			Send: MsgSend{
				FromAddress: m.Value.FromAddress,
				ToAddress:   m.Value.ToAddress,
				Amount:      m.Value.Amount,
			},
		}, nil
	}

	return SigningMsg{}, E(UnsupportedMsgType, m.TypeURL, ErrUnknownMsgType)
}

// ConvertAll converts every message of a signed transaction to broadcast form, failing on the first unsupported
// type.
func ConvertAll(msgs []SigningMsg) ([]BroadcastMsg, error) {
	out := make([]BroadcastMsg, 0, len(msgs))

	for _, m := range msgs {
		b, err := ToBroadcastForm(m)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}

	return out, nil
}
