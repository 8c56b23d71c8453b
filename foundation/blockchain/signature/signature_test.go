package signature_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func TestDeriveKeyPair(t *testing.T) {
	t.Log("Given the need to derive keys from a password.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen deriving twice with the same inputs.", testID)
		{
			kp1, err := signature.DeriveKeyPair(signature.KeygenMethodEC256K1, "openplacereviews", "a-long-enough-password")
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to derive keys: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to derive keys.", success, testID)

			kp2, err := signature.DeriveKeyPair(signature.KeygenMethodEC256K1, "openplacereviews", "a-long-enough-password")
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to derive keys again: %v", failed, testID, err)
			}

			if !kp1.Private.Key.Equals(&kp2.Private.Key) {
				t.Fatalf("\t%s\tTest %d:\tShould derive the same private key.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould derive the same private key.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the password is too short.", testID)
		{
			_, err := signature.DeriveKeyPair(signature.KeygenMethodEC256K1, "salt", "short")
			if !errors.Is(err, signature.ErrWeakPassword) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the password: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the password.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the password has multi-byte characters.", testID)
		{
			_, err := signature.DeriveKeyPair(signature.KeygenMethodEC256K1, "salt", "пароль12")
			if !errors.Is(err, signature.ErrWeakPassword) {
				t.Fatalf("\t%s\tTest %d:\tShould count characters, not bytes: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould count characters, not bytes.", success, testID)

			if _, err := signature.DeriveKeyPair(signature.KeygenMethodEC256K1, "salt", "пароль1234"); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept ten characters: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept ten characters.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the method is unknown.", testID)
		{
			if _, err := signature.DeriveKeyPair("RSA", "salt", "a-long-enough-password"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject the method.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the method.", success, testID)
		}
	}
}

func TestKeyEncoding(t *testing.T) {
	kp, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("unable to generate keys: %v", err)
	}

	t.Log("Given the need to encode keys as tagged strings.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen round tripping a key pair.", testID)
		{
			pub, err := signature.EncodePublicKey(kp.Public)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould encode the public key: %v", failed, testID, err)
			}
			if !strings.HasPrefix(pub, "base64:X.509:") {
				t.Fatalf("\t%s\tTest %d:\tShould use the X.509 format: %s", failed, testID, pub)
			}
			t.Logf("\t%s\tTest %d:\tShould encode the public key.", success, testID)

			priv, err := signature.EncodePrivateKey(kp.Private)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould encode the private key: %v", failed, testID, err)
			}
			if !strings.HasPrefix(priv, "base64:PKCS#8:") {
				t.Fatalf("\t%s\tTest %d:\tShould use the PKCS#8 format: %s", failed, testID, priv)
			}
			t.Logf("\t%s\tTest %d:\tShould encode the private key.", success, testID)

			got, err := signature.DecodeKeyPair(priv, pub)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould decode the pair: %v", failed, testID, err)
			}

			if !got.Public.IsEqual(kp.Public) || !got.Private.Key.Equals(&kp.Private.Key) {
				t.Fatalf("\t%s\tTest %d:\tShould get back the same keys.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get back the same keys.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the key string is malformed.", testID)
		{
			bad := []string{"", "base64", "base64:X.509", "hex:X.509:abcd", "base64:PKCS#8:AAAA", "base64:X.509:!!!"}
			for _, key := range bad {
				if _, err := signature.DecodePublicKey(key); !errors.Is(err, signature.ErrInvalidKey) {
					t.Fatalf("\t%s\tTest %d:\tShould reject %q: %v", failed, testID, key, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould reject all malformed keys.", success, testID)
		}
	}
}

func TestSign(t *testing.T) {
	kp, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("unable to generate keys: %v", err)
	}
	other, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("unable to generate keys: %v", err)
	}

	msg := []byte("sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")

	tt := []struct {
		name string
		algo string
	}{
		{name: "sha1", algo: signature.SigAlgoSHA1EC},
		{name: "none", algo: signature.SigAlgoNoneEC},
	}

	t.Log("Given the need to sign and verify messages.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen using the %s algorithm.", testID, tst.algo)
				{
					sig, err := signature.SignBase64(kp, msg, tst.algo)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to sign: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to sign.", success, testID)

					raw, err := signature.DecodeSignature(sig)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould decode the signature: %v", failed, testID, err)
					}

					ok, err := signature.Verify(kp.Public, msg, tst.algo, raw)
					if err != nil || !ok {
						t.Fatalf("\t%s\tTest %d:\tShould verify with the signer key: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould verify with the signer key.", success, testID)

					ok, _ = signature.Verify(other.Public, msg, tst.algo, raw)
					if ok {
						t.Fatalf("\t%s\tTest %d:\tShould not verify with another key.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould not verify with another key.", success, testID)

					ok, _ = signature.Verify(kp.Public, []byte("tampered"), tst.algo, raw)
					if ok {
						t.Fatalf("\t%s\tTest %d:\tShould not verify a different message.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould not verify a different message.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func TestFromECDSA(t *testing.T) {
	t.Log("Given the need to use an ethereum key file key.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen converting the key.", testID)
		{
			pk, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould generate a key: %v", failed, testID, err)
			}

			kp := signature.FromECDSA(pk)
			if got := kp.Public.SerializeUncompressed(); string(got) != string(crypto.FromECDSAPub(&pk.PublicKey)) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the same public key.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the same public key.", success, testID)
		}
	}
}

func TestHash(t *testing.T) {
	tt := []struct {
		name string
		algo string
		salt string
		msg  string
		hash string
	}{
		{name: "sha256", algo: signature.HashSHA256, msg: "test", hash: "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
		{name: "sha1", algo: signature.HashSHA1, msg: "test", hash: "sha1:a94a8fe5ccb19ba61c4c0873d391e987982fbbd3"},
		{name: "salted", algo: signature.HashSHA256Salt, salt: "te", msg: "st", hash: "sha256_salt:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
	}

	t.Log("Given the need to produce tagged hashes.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen hashing with %s.", testID, tst.algo)
				{
					got, err := signature.CalculateHash(tst.algo, tst.salt, []byte(tst.msg))
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to hash: %v", failed, testID, err)
					}

					if got != tst.hash {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.hash)
						t.Fatalf("\t%s\tTest %d:\tShould get the expected hash.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the expected hash.", success, testID)

					ok, err := signature.ValidateHash(got, tst.salt, []byte(tst.msg))
					if err != nil || !ok {
						t.Fatalf("\t%s\tTest %d:\tShould validate the hash: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould validate the hash.", success, testID)

					if signature.RawHash(got) != got[len(tst.algo)+1:] {
						t.Fatalf("\t%s\tTest %d:\tShould get the raw hash after the last colon.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the raw hash after the last colon.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}
