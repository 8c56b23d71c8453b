// Package signature provides helper functions for handling the ledger
// signature needs: key pairs, key encoding, signing and tagged hashes.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// Set of signature algorithms that are supported.
const (
	SigAlgoSHA1EC = "SHA1withECDSA" // Kept for backward compatibility, the default.
	SigAlgoNoneEC = "NonewithECDSA" // The message is already a digest.
)

// DecodeBase64 is the prefix used for base64 encoded keys and signatures.
const DecodeBase64 = "base64"

// ErrInvalidSignature is returned when a signature can't be parsed.
var ErrInvalidSignature = errors.New("invalid signature")

// =============================================================================

// KeyPair represents a secp256k1 key pair. Either side can be nil when only
// half of the pair is known.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeyPair constructs a random key pair.
func GenerateKeyPair() (KeyPair, error) {
	pk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{Private: pk, Public: pk.PubKey()}, nil
}

// FromECDSA converts a standard library private key, like the ones loaded
// from disk with the ethereum crypto package, into a key pair.
func FromECDSA(pk *ecdsa.PrivateKey) KeyPair {
	priv := secp256k1.PrivKeyFromBytes(crypto.FromECDSA(pk))
	return KeyPair{Private: priv, Public: priv.PubKey()}
}

// =============================================================================

// Sign uses the private key of the pair to sign the message with the
// specified algorithm. The signature is returned DER encoded.
func Sign(kp KeyPair, msg []byte, algo string) ([]byte, error) {
	if kp.Private == nil {
		return nil, errors.New("key pair has no private key")
	}

	digest, err := digest(msg, algo)
	if err != nil {
		return nil, err
	}

	sig := dcrecdsa.Sign(kp.Private, digest)
	return sig.Serialize(), nil
}

// SignBase64 signs the message and returns the signature in its tagged
// string form: base64:<signature>.
func SignBase64(kp KeyPair, msg []byte, algo string) (string, error) {
	sig, err := Sign(kp, msg, algo)
	if err != nil {
		return "", err
	}

	return DecodeBase64 + ":" + base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks the DER encoded signature matches the message for the
// specified public key.
func Verify(pub *secp256k1.PublicKey, msg []byte, algo string, sig []byte) (bool, error) {
	if pub == nil {
		return false, nil
	}

	digest, err := digest(msg, algo)
	if err != nil {
		return false, err
	}

	s, err := dcrecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	return s.Verify(digest, pub), nil
}

// DecodeSignature parses a tagged signature string into its raw bytes.
func DecodeSignature(sig string) ([]byte, error) {
	prefix := DecodeBase64 + ":"
	if !strings.HasPrefix(sig, prefix) {
		return nil, fmt.Errorf("%w: unknown format for signature %q", ErrInvalidSignature, sig)
	}

	b, err := base64.StdEncoding.DecodeString(sig[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	return b, nil
}

// =============================================================================

// digest produces the value that is signed for the specified algorithm.
func digest(msg []byte, algo string) ([]byte, error) {
	switch algo {
	case SigAlgoSHA1EC:
		h := sha1.Sum(msg)
		return h[:], nil

	case SigAlgoNoneEC:
		return msg, nil
	}

	return nil, fmt.Errorf("signature algorithm is not supported: %s", algo)
}
