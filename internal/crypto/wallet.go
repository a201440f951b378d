// Package crypto implements Solana wallet key handling and transaction
// signing.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wallet holds an ed25519 keypair and signs serialized Solana transactions.
type Wallet struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// NewWallet creates a Wallet from a base58-encoded secret key. Both the
// 64-byte keypair format (seed followed by public key, as exported by most
// Solana wallets) and a bare 32-byte seed are accepted.
func NewWallet(secretBase58 string) (*Wallet, error) {
	raw, err := base58.Decode(secretBase58)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: decode secret key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("crypto/wallet: secret key must be %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{
		priv:    priv,
		pub:     pub,
		address: base58.Encode(pub),
	}, nil
}

// Address returns the wallet's public key in base58.
func (w *Wallet) Address() string {
	return w.address
}

// SignTransaction takes a base64-encoded serialized Solana transaction (as
// returned by swap-building APIs), signs its message as the fee payer, and
// returns the signed transaction re-encoded in base64.
//
// Wire layout: a shortvec signature count, then count 64-byte signatures,
// then the message bytes. The fee payer's signature is slot zero.
func (w *Wallet) SignTransaction(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("crypto/wallet: decode transaction: %w", err)
	}

	sigCount, offset, err := decodeShortvecLen(raw)
	if err != nil {
		return "", fmt.Errorf("crypto/wallet: parse signature count: %w", err)
	}
	if sigCount == 0 {
		return "", fmt.Errorf("crypto/wallet: transaction reserves no signature slots")
	}

	msgStart := offset + sigCount*ed25519.SignatureSize
	if msgStart >= len(raw) {
		return "", fmt.Errorf("crypto/wallet: transaction truncated (%d bytes, need > %d)", len(raw), msgStart)
	}

	sig := ed25519.Sign(w.priv, raw[msgStart:])
	copy(raw[offset:offset+ed25519.SignatureSize], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeShortvecLen decodes Solana's compact-u16 length prefix. It returns
// the decoded value and the number of prefix bytes consumed.
func decodeShortvecLen(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("short buffer")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("length prefix too long")
}
