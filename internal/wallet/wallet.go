// Package wallet holds the agent's signing key. The agent signs every
// broadcast transaction with one secp256k1 key; the key is loaded from a hex
// key file or generated on first use.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
)

// Wallet is a secp256k1 signing key with its derived address.
type Wallet struct {
	privateKey *btcec.PrivateKey
	publicKey  []byte
	address    string
}

// New generates a wallet with a fresh key pair.
func New() (*Wallet, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return fromPrivateKey(privateKey), nil
}

// Import builds a wallet from a hex-encoded private key.
func Import(privateKeyHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}
	if len(raw) != 32 {
		return nil, errors.New("invalid private key length")
	}
	privateKey, _ := btcec.PrivKeyFromBytes(raw)
	if privateKey == nil {
		return nil, errors.New("invalid private key")
	}
	return fromPrivateKey(privateKey), nil
}

// Load reads a wallet from a hex key file. If the file does not exist it
// generates a new key and writes it there with owner-only permissions.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return Import(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	w, err := New()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(w.ExportPrivateKey()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return w, nil
}

func fromPrivateKey(privateKey *btcec.PrivateKey) *Wallet {
	pubKey := privateKey.PubKey().SerializeCompressed()
	hash := sha256.Sum256(pubKey)
	return &Wallet{
		privateKey: privateKey,
		publicKey:  pubKey,
		address:    base58.Encode(hash[:20]),
	}
}

// Address returns the base58 address derived from the public key.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the compressed serialized public key.
func (w *Wallet) PublicKey() []byte {
	return w.publicKey
}

// ExportPrivateKey exports the private key as a hex string.
func (w *Wallet) ExportPrivateKey() string {
	return hex.EncodeToString(w.privateKey.Serialize())
}

// Sign signs the SHA-256 digest of message and returns the DER signature.
func (w *Wallet) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.Sign(w.privateKey, digest[:]).Serialize(), nil
}

// SignValue signs the canonical JSON encoding of v.
func (w *Wallet) SignValue(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signable value: %w", err)
	}
	return w.Sign(data)
}

// Verify checks a DER signature over the SHA-256 digest of message against a
// compressed public key.
func Verify(pubKey, message, signature []byte) (bool, error) {
	parsedPubKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}
	parsedSig, err := ecdsa.ParseSignature(signature)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}
	digest := sha256.Sum256(message)
	return parsedSig.Verify(digest[:], parsedPubKey), nil
}
