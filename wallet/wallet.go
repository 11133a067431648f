// Package wallet provides participant key management and keystore files.
package wallet

import (
	"github.com/iturovskiy/blockmesh/crypto"
)

// Wallet holds a key pair and derives the participant identity: the mesh
// address and the opaque signature string carried in transactions.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the participant address: the first 20 bytes of
// SHA-256(pubkey), hex-encoded.
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// Sign signs data and returns the hex signature.
func (w *Wallet) Sign(data []byte) string {
	return crypto.Sign(w.priv, data)
}

// SignTag returns the participant's opaque sign string: the signature over
// its own address. Storage nodes treat it as an opaque byte string; it is
// what receivers append when co-signing a transaction.
func (w *Wallet) SignTag() string {
	return crypto.Sign(w.priv, []byte(w.Address()))
}
