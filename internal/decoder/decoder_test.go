package decoder

import (
	"testing"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/identity"
	"qx-indexer/internal/qubic"
)

const contractAddr = "TESTCONTRACTAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAB"

func issuerKey() [identity.KeyLength]byte {
	var key [identity.KeyLength]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func orderTx(inputType uint32, payload []byte) *qubic.Transaction {
	return &qubic.Transaction{
		Source:      "TRADERIDENTITY",
		Destination: contractAddr,
		InputType:   inputType,
		InputSize:   uint32(len(payload)),
		InputData:   payload,
		TxID:        "tx-abc",
	}
}

func TestDecodeBuyRoundTrip(t *testing.T) {
	d := New(contractAddr)
	issuer := issuerKey()

	payload := EncodeOrderPayload(issuer, "ABC", 5, 1000)
	trade := d.Decode(orderTx(OpAddBid, payload))
	if trade == nil {
		t.Fatal("expected decoded trade, got nil")
	}

	if trade.Side != domain.SideBuy {
		t.Errorf("side = %q, want buy", trade.Side)
	}
	if trade.AssetName != "ABC" {
		t.Errorf("asset name = %q, want ABC", trade.AssetName)
	}
	if trade.AssetIssuer != identity.Encode(issuer) {
		t.Errorf("issuer = %q, want %q", trade.AssetIssuer, identity.Encode(issuer))
	}
	if trade.Price != 5 || trade.Shares != 1000 {
		t.Errorf("price/shares = %d/%d, want 5/1000", trade.Price, trade.Shares)
	}
	if trade.TotalValue.Int64() != 5000 {
		t.Errorf("total value = %s, want 5000", trade.TotalValue)
	}
	if trade.Trader != "TRADERIDENTITY" {
		t.Errorf("trader = %q", trade.Trader)
	}
}

func TestDecodeSell(t *testing.T) {
	d := New(contractAddr)
	payload := EncodeOrderPayload(issuerKey(), "QFT", 12, 7)

	trade := d.Decode(orderTx(OpAddAsk, payload))
	if trade == nil {
		t.Fatal("expected decoded trade, got nil")
	}
	if trade.Side != domain.SideSell {
		t.Errorf("side = %q, want sell", trade.Side)
	}
	if trade.TotalValue.Int64() != 84 {
		t.Errorf("total value = %s, want 84", trade.TotalValue)
	}
	if trade.PricePerUnit != 12/7 {
		t.Errorf("price per unit = %d", trade.PricePerUnit)
	}
}

func TestDecodeZeroShares(t *testing.T) {
	d := New(contractAddr)
	payload := EncodeOrderPayload(issuerKey(), "ABC", 5, 0)

	trade := d.Decode(orderTx(OpAddBid, payload))
	if trade == nil {
		t.Fatal("expected decoded trade, got nil")
	}
	if trade.PricePerUnit != 0 {
		t.Errorf("price per unit with zero shares = %d, want 0", trade.PricePerUnit)
	}
}

func TestDecodeIgnoresWrongDestination(t *testing.T) {
	d := New(contractAddr)
	tx := orderTx(OpAddBid, EncodeOrderPayload(issuerKey(), "ABC", 5, 10))
	tx.Destination = "SOMEOTHERCONTRACT"

	if d.Decode(tx) != nil {
		t.Error("transaction to another contract must be ignored")
	}
}

func TestDecodeIgnoresNonTradeOps(t *testing.T) {
	d := New(contractAddr)
	payload := EncodeOrderPayload(issuerKey(), "ABC", 5, 10)

	for _, op := range []uint32{OpIssueAsset, OpTransferAsset, OpRemoveAsk, OpRemoveBid, 0, 99} {
		if d.Decode(orderTx(op, payload)) != nil {
			t.Errorf("input type %d must not decode to a trade", op)
		}
	}
}

func TestDecodeSkipsMalformedPayloads(t *testing.T) {
	d := New(contractAddr)

	// Short payload.
	if d.Decode(orderTx(OpAddBid, make([]byte, 55))) != nil {
		t.Error("short payload must decode to nil")
	}

	// Zero issuer key.
	var zero [identity.KeyLength]byte
	if d.Decode(orderTx(OpAddBid, EncodeOrderPayload(zero, "ABC", 5, 10))) != nil {
		t.Error("zero issuer must decode to nil")
	}

	// Empty asset name.
	if d.Decode(orderTx(OpAddBid, EncodeOrderPayload(issuerKey(), "", 5, 10))) != nil {
		t.Error("empty asset name must decode to nil")
	}

	// Non-printable asset name.
	payload := EncodeOrderPayload(issuerKey(), "AB", 5, 10)
	payload[32] = 0x01
	if d.Decode(orderTx(OpAddBid, payload)) != nil {
		t.Error("non-printable asset name must decode to nil")
	}
}

func TestDecodeNegativePriceRoundTrip(t *testing.T) {
	// Signed fields survive the little-endian round trip.
	d := New(contractAddr)
	payload := EncodeOrderPayload(issuerKey(), "ABC", -3, 4)

	trade := d.Decode(orderTx(OpAddAsk, payload))
	if trade == nil {
		t.Fatal("expected decoded trade")
	}
	if trade.Price != -3 {
		t.Errorf("price = %d, want -3", trade.Price)
	}
	if trade.TotalValue.Int64() != -12 {
		t.Errorf("total value = %s, want -12", trade.TotalValue)
	}
}
