// Package decoder extracts QX exchange trades from raw ledger transactions.
package decoder

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/identity"
	"qx-indexer/internal/qubic"
)

// QX order input types. Codes outside this table are ignored.
const (
	OpIssueAsset    uint32 = 1
	OpTransferAsset uint32 = 2
	OpAddAsk        uint32 = 5 // sell order
	OpAddBid        uint32 = 6 // buy order
	OpRemoveAsk     uint32 = 7
	OpRemoveBid     uint32 = 8
)

// orderPayloadSize is the fixed size of an ask/bid order input:
// 32-byte issuer key, 8-byte packed asset name, 8-byte price, 8-byte shares,
// all little-endian.
const orderPayloadSize = 56

// DecodedTrade is a trade intent extracted from a QX order transaction.
// Tick and timestamp are attached later by the indexer engine, which knows
// the tick context the transaction came from.
type DecodedTrade struct {
	TxID         string
	Side         string // domain.SideBuy | domain.SideSell
	AssetIssuer  string
	AssetName    string
	Trader       string
	Price        int64
	Shares       int64
	TotalValue   *big.Int // price * shares
	PricePerUnit int64    // price/shares, 0 when shares == 0
}

// DefaultContractAddress returns the QX contract identity, derived from its
// index in the ledger's contract table the same way node software does.
func DefaultContractAddress() string {
	var key [identity.KeyLength]byte
	key[0] = 1 // QX is contract #1
	return identity.Encode(key)
}

// Decoder filters and decodes transactions targeting the QX contract.
type Decoder struct {
	contractAddress string
}

// New creates a decoder bound to one exchange contract address.
func New(contractAddress string) *Decoder {
	return &Decoder{contractAddress: contractAddress}
}

// Decode returns the trade carried by tx, or nil if tx is not a QX buy/sell
// order or its payload is malformed. Malformed payloads are skipped, never
// treated as errors: one bad transaction must not abort a tick.
func (d *Decoder) Decode(tx *qubic.Transaction) *DecodedTrade {
	if tx == nil || tx.Destination != d.contractAddress {
		return nil
	}

	var side string
	switch tx.InputType {
	case OpAddBid:
		side = domain.SideBuy
	case OpAddAsk:
		side = domain.SideSell
	default:
		// Issue/transfer/remove-order and unknown codes carry no trade.
		return nil
	}

	if len(tx.InputData) < orderPayloadSize {
		return nil
	}

	var issuerKey [identity.KeyLength]byte
	copy(issuerKey[:], tx.InputData[:32])
	if issuerKey == ([identity.KeyLength]byte{}) {
		return nil
	}

	assetName := unpackAssetName(tx.InputData[32:40])
	if assetName == "" {
		return nil
	}

	price := int64(binary.LittleEndian.Uint64(tx.InputData[40:48]))
	shares := int64(binary.LittleEndian.Uint64(tx.InputData[48:56]))

	total := new(big.Int).Mul(big.NewInt(price), big.NewInt(shares))

	var perUnit int64
	if shares != 0 {
		perUnit = price / shares
	}

	return &DecodedTrade{
		TxID:         tx.TxID,
		Side:         side,
		AssetIssuer:  identity.Encode(issuerKey),
		AssetName:    assetName,
		Trader:       tx.Source,
		Price:        price,
		Shares:       shares,
		TotalValue:   total,
		PricePerUnit: perUnit,
	}
}

// unpackAssetName extracts the NUL-padded ASCII name from its 8-byte slot.
// Returns "" if the name is empty or contains non-printable characters.
func unpackAssetName(b []byte) string {
	name := bytes.TrimRight(b, "\x00")
	if len(name) == 0 {
		return ""
	}
	for _, c := range name {
		if c < 0x21 || c > 0x7E {
			return ""
		}
	}
	return string(name)
}

// EncodeOrderPayload builds the 56-byte order input for a given issuer key,
// asset name, price and share count. Used by tests and tooling; the layout
// is the exact inverse of Decode.
func EncodeOrderPayload(issuer [identity.KeyLength]byte, assetName string, price, shares int64) []byte {
	payload := make([]byte, orderPayloadSize)
	copy(payload[:32], issuer[:])
	copy(payload[32:40], assetName) // NUL padding comes from the zeroed slice
	binary.LittleEndian.PutUint64(payload[40:48], uint64(price))
	binary.LittleEndian.PutUint64(payload[48:56], uint64(shares))
	return payload
}
