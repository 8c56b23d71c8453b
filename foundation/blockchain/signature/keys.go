package signature

import (
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/scrypt"
)

// KeygenMethodEC256K1 derives a secp256k1 key pair from
// scrypt(salt, N:2^17, r:8, p:1, len:256).
const KeygenMethodEC256K1 = "EC256K1_S17R8"

// Key formats used in the encoded key strings.
const (
	FormatPKCS8 = "PKCS#8"
	FormatX509  = "X.509"
)

// minPasswordLength is the length under which a password gives too little
// entropy to derive a key from.
const minPasswordLength = 10

// ErrWeakPassword is returned when a password is too short to derive keys.
var ErrWeakPassword = errors.New("less than 10 characters produces only 50 bit entropy")

// ErrInvalidKey is returned when an encoded key can't be decoded.
var ErrInvalidKey = errors.New("invalid key")

var (
	oidPublicKeyEC = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// =============================================================================

// DeriveKeyPair deterministically derives a key pair from a password with
// the specified method.
func DeriveKeyPair(method string, salt string, pwd string) (KeyPair, error) {
	if method != KeygenMethodEC256K1 {
		return KeyPair{}, fmt.Errorf("unsupported keygen method: %s", method)
	}

	if utf8.RuneCountInString(pwd) < minPasswordLength {
		return KeyPair{}, ErrWeakPassword
	}

	seed, err := scrypt.Key([]byte(pwd), []byte(salt), 1<<17, 8, 1, 256)
	if err != nil {
		return KeyPair{}, err
	}

	// The scalar is taken from 64 extra bits over the curve size to keep the
	// modulo bias negligible and is mapped into [1, n-1].
	n := secp256k1.S256().Params().N
	k := new(big.Int).SetBytes(seed[:40])
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1))

	var scalar [32]byte
	k.FillBytes(scalar[:])

	priv := secp256k1.PrivKeyFromBytes(scalar[:])
	return KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// =============================================================================

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

type pkcs8 struct {
	Version    int
	Algorithm  algorithmIdentifier
	PrivateKey []byte
}

type ecPrivateKey struct {
	Version    int
	PrivateKey []byte
	Curve      asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey  asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// EncodePublicKey encodes the public key as base64:X.509:<der>.
func EncodePublicKey(pub *secp256k1.PublicKey) (string, error) {
	point := pub.SerializeUncompressed()

	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: oidPublicKeyEC, Parameters: oidSecp256k1},
		PublicKey: asn1.BitString{Bytes: point, BitLength: 8 * len(point)},
	})
	if err != nil {
		return "", err
	}

	return encodeKey(FormatX509, der), nil
}

// EncodePrivateKey encodes the private key as base64:PKCS#8:<der>.
func EncodePrivateKey(priv *secp256k1.PrivateKey) (string, error) {
	inner, err := asn1.Marshal(ecPrivateKey{
		Version:    1,
		PrivateKey: priv.Serialize(),
	})
	if err != nil {
		return "", err
	}

	der, err := asn1.Marshal(pkcs8{
		Version:    0,
		Algorithm:  algorithmIdentifier{Algorithm: oidPublicKeyEC, Parameters: oidSecp256k1},
		PrivateKey: inner,
	})
	if err != nil {
		return "", err
	}

	return encodeKey(FormatPKCS8, der), nil
}

// DecodePublicKey decodes a base64:X.509:<der> key string.
func DecodePublicKey(key string) (*secp256k1.PublicKey, error) {
	der, err := decodeKey(key, FormatX509)
	if err != nil {
		return nil, err
	}

	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	if !spki.Algorithm.Parameters.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("%w: curve is not secp256k1", ErrInvalidKey)
	}

	pub, err := secp256k1.ParsePubKey(spki.PublicKey.RightAlign())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	return pub, nil
}

// DecodePrivateKey decodes a base64:PKCS#8:<der> key string.
func DecodePrivateKey(key string) (*secp256k1.PrivateKey, error) {
	der, err := decodeKey(key, FormatPKCS8)
	if err != nil {
		return nil, err
	}

	var p8 pkcs8
	if _, err := asn1.Unmarshal(der, &p8); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	if !p8.Algorithm.Parameters.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("%w: curve is not secp256k1", ErrInvalidKey)
	}

	var ec ecPrivateKey
	if _, err := asn1.Unmarshal(p8.PrivateKey, &ec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	if len(ec.PrivateKey) == 0 || len(ec.PrivateKey) > 32 {
		return nil, fmt.Errorf("%w: bad private key length %d", ErrInvalidKey, len(ec.PrivateKey))
	}

	return secp256k1.PrivKeyFromBytes(ec.PrivateKey), nil
}

// DecodeKeyPair decodes the encoded private and public keys into a key pair.
// An empty string leaves that half of the pair nil.
func DecodeKeyPair(privateKey string, publicKey string) (KeyPair, error) {
	var kp KeyPair

	if publicKey != "" {
		pub, err := DecodePublicKey(publicKey)
		if err != nil {
			return KeyPair{}, err
		}
		kp.Public = pub
	}

	if privateKey != "" {
		priv, err := DecodePrivateKey(privateKey)
		if err != nil {
			return KeyPair{}, err
		}
		kp.Private = priv
		if kp.Public == nil {
			kp.Public = priv.PubKey()
		}
	}

	return kp, nil
}

// =============================================================================

func encodeKey(format string, der []byte) string {
	return DecodeBase64 + ":" + format + ":" + base64.StdEncoding.EncodeToString(der)
}

// decodeKey validates the base64:<format>:<data> structure of the key.
func decodeKey(key string, format string) ([]byte, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != DecodeBase64 {
		return nil, fmt.Errorf("%w: key doesn't contain the encoding and format", ErrInvalidKey)
	}

	if parts[1] != format {
		return nil, fmt.Errorf("%w: expected format %s, got %s", ErrInvalidKey, format, parts[1])
	}

	der, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}

	return der, nil
}
