package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/gob"
	"encoding/pem"
	"errors"
	"os"

	"github.com/bartossh/Settlementis/address"
)

var (
	ErrInvalidSignature = errors.New("signature is not valid for given address")
	ErrHashMismatch     = errors.New("message digest does not match provided hash")
	ErrPemDecode        = errors.New("cannot decode key from PEM format")
	ErrKeyType          = errors.New("key is not an ed25519 key")
)

// Wallet holds public and private key of the wallet owner.
type Wallet struct {
	Private ed25519.PrivateKey `json:"-"`
	Public  ed25519.PublicKey  `json:"public"`
}

// New creates a new Wallet with a fresh ed25519 key pair.
func New() (Wallet, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Private: private, Public: public}, nil
}

// FromSeed creates a Wallet from 32 bytes seed. Useful for deterministic test fixtures.
func FromSeed(seed []byte) (Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return Wallet{}, ErrKeyType
	}
	private := ed25519.NewKeyFromSeed(seed)
	return Wallet{Private: private, Public: private.Public().(ed25519.PublicKey)}, nil
}

// Address returns the ledger address of the wallet, that is the raw public key.
func (w *Wallet) Address() address.Address {
	var a address.Address
	copy(a[:], w.Public)
	return a
}

// Sign signs the message with Ed25519 signature.
// Returns digest hash sha256 and signature of the digest.
func (w *Wallet) Sign(message []byte) (digest [32]byte, signature []byte) {
	digest = sha256.Sum256(message)
	signature = ed25519.Sign(w.Private, digest[:])
	return digest, signature
}

// Verify verifies that signature over message digest belongs to the given address.
func Verify(message, signature []byte, hash [32]byte, addr address.Address) error {
	digest := sha256.Sum256(message)
	if !bytes.Equal(hash[:], digest[:]) {
		return ErrHashMismatch
	}
	if !ed25519.Verify(ed25519.PublicKey(addr[:]), digest[:], signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Helper satisfies verifier abstraction used by the api middleware.
type Helper struct{}

// Verify verifies signature, see Verify function.
func (Helper) Verify(message, signature []byte, hash [32]byte, addr address.Address) error {
	return Verify(message, signature, hash, addr)
}

// SaveToPem saves wallet private and public key to the PEM format file.
// Saved files are like in the example:
// - PRIVATE: "your/path/name"
// - PUBLIC: "your/path/name.pub"
func (w *Wallet) SaveToPem(filepath string) error {
	prv, err := x509.MarshalPKCS8PrivateKey(w.Private)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(w.Public)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: prv}), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath+".pub", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0644)
}

// ReadFromPem creates Wallet from PEM format file.
// Provide the path to a file without specifying the extension : <your/path/name".
func ReadFromPem(filepath string) (Wallet, error) {
	rawPrv, err := os.ReadFile(filepath)
	if err != nil {
		return Wallet{}, err
	}
	blockPrv, _ := pem.Decode(rawPrv)
	if blockPrv == nil || blockPrv.Type != "PRIVATE KEY" {
		return Wallet{}, ErrPemDecode
	}
	prv, err := x509.ParsePKCS8PrivateKey(blockPrv.Bytes)
	if err != nil {
		return Wallet{}, err
	}
	private, ok := prv.(ed25519.PrivateKey)
	if !ok {
		return Wallet{}, ErrKeyType
	}

	w := Wallet{Private: private, Public: private.Public().(ed25519.PublicKey)}

	rawPub, err := os.ReadFile(filepath + ".pub")
	if err != nil {
		return w, nil // public key is derivable from the private one
	}
	blockPub, _ := pem.Decode(rawPub)
	if blockPub == nil || blockPub.Type != "PUBLIC KEY" {
		return Wallet{}, ErrPemDecode
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return Wallet{}, err
	}
	public, ok := pub.(ed25519.PublicKey)
	if !ok || !bytes.Equal(public, w.Public) {
		return Wallet{}, ErrKeyType
	}
	return w, nil
}

type gobWallet struct {
	Private []byte
	Public  []byte
}

// DecodeGOBWallet tries to decode Wallet from gob representation or returns error otherwise.
func DecodeGOBWallet(data []byte) (Wallet, error) {
	var gw gobWallet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&gw); err != nil {
		return Wallet{}, err
	}
	if len(gw.Private) != ed25519.PrivateKeySize || len(gw.Public) != ed25519.PublicKeySize {
		return Wallet{}, ErrKeyType
	}
	return Wallet{Private: ed25519.PrivateKey(gw.Private), Public: ed25519.PublicKey(gw.Public)}, nil
}

// EncodeGOB tries to encode Wallet in to the gob representation or returns error otherwise.
func (w *Wallet) EncodeGOB() ([]byte, error) {
	var content bytes.Buffer
	if err := gob.NewEncoder(&content).Encode(gobWallet{Private: w.Private, Public: w.Public}); err != nil {
		return nil, err
	}
	return content.Bytes(), nil
}
