package claim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"bridge-runner/pkg/bridgeabi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Number is a uint256 the API sends either as a JSON number or as a decimal or 0x-hex string.
type Number struct {
	*big.Int
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		n.Int = nil
		return nil
	}
	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("claim: invalid number %q", s)
	}
	n.Int = v
	return nil
}

type Message struct {
	Nonce Number `json:"nonce"`
}

type Proof struct {
	MultisignProof string `json:"multisign_proof"`
}

type Info struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   Number         `json:"value"`
	Message Message        `json:"message"`
	Proof   Proof          `json:"proof"`
}

// Withdrawal is one entry of the withdrawals list.
type Withdrawal struct {
	Hash        string `json:"hash"`
	MessageHash string `json:"message_hash"`
	ClaimInfo   Info   `json:"claim_info"`
}

type listRequest struct {
	Address  string `json:"address"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// listResponse keeps results raw so that only the matched entry is decoded strictly.
type listResponse struct {
	Data struct {
		Results []json.RawMessage `json:"results"`
	} `json:"data"`
}

type entryHash struct {
	Hash string `json:"hash"`
}

// EncodePayload lays out pad32(from) ‖ pad32(to) ‖ uint256(value).
func EncodePayload(from, to common.Address, value *big.Int) []byte {
	out := make([]byte, 0, 96)
	out = append(out, common.LeftPadBytes(from.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(to.Bytes(), 32)...)
	v := value
	if v == nil {
		v = new(big.Int)
	}
	return append(out, common.LeftPadBytes(v.Bytes(), 32)...)
}

// Message builds the upward message consumed by receiveUpwardMessages.
func (w Withdrawal) Message() (bridgeabi.UpwardMessage, error) {
	info := w.ClaimInfo
	if info.Value.Int == nil || info.Value.BitLen() > 256 {
		return bridgeabi.UpwardMessage{}, fmt.Errorf("%w: withdrawal %s has no valid value", ErrMalformedRecord, w.Hash)
	}
	if info.Message.Nonce.Int == nil {
		return bridgeabi.UpwardMessage{}, fmt.Errorf("%w: withdrawal %s has no nonce", ErrMalformedRecord, w.Hash)
	}
	return bridgeabi.UpwardMessage{
		PayloadType: 0,
		Payload:     EncodePayload(info.From, info.To, info.Value.Int),
		Nonce:       new(big.Int).Set(info.Message.Nonce.Int),
	}, nil
}

func (w Withdrawal) Proof() ([]byte, error) {
	raw := strings.TrimSpace(w.ClaimInfo.Proof.MultisignProof)
	if raw == "" {
		return nil, fmt.Errorf("%w: withdrawal %s has no proof", ErrMalformedRecord, w.Hash)
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	proof, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: withdrawal %s proof: %v", ErrMalformedRecord, w.Hash, err)
	}
	return proof, nil
}
