package compliance

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/google/uuid"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/internal/labsterr"
)

// Signature is the detached {alg, key_id, sig_bytes} tuple spec.md §4.7
// names.
type Signature struct {
	Alg   string
	KeyID string
	Sig   []byte
}

// Envelope is the (canonical-bytes, hash, signature) triple binding a
// measurement result or config snapshot to the configuration and commands
// that produced it.
type Envelope struct {
	ID             string
	CanonicalBytes []byte
	Hash           [32]byte
	Signature      Signature
	CreatedAt      time.Time
}

// Signer carries the private key used to produce new envelopes. KeyID
// names the key for later verification against a KeyStore.
type Signer struct {
	KeyID      string
	PrivateKey ed25519.PrivateKey
}

// KeyStore resolves a KeyID to the public key that verifies it. Callers
// supply their own implementation (file-backed, KMS-backed, etc.); this
// package only consumes the interface.
type KeyStore interface {
	PublicKey(keyID string) (ed25519.PublicKey, error)
}

const signatureAlg = "ed25519-blake2b256"

// Sign canonicalizes result (with trace as the commands executed since
// the previous envelope), hashes it with BLAKE2b-256, and signs the hash
// with signer's private key.
func Sign(result instrument.Result, trace []string, signer Signer) (*Envelope, error) {
	if len(signer.PrivateKey) == 0 {
		return nil, labsterr.NewComplianceError("compliance.Sign", labsterr.ComplianceKeyUnavailable,
			fmt.Errorf("signer %q has no private key", signer.KeyID))
	}
	canon, err := Canonicalize(result, trace)
	if err != nil {
		return nil, err
	}
	return signCanonical(canon, signer)
}

// SignConfig is Sign's counterpart for an instrument configuration
// snapshot (spec.md §4.7's "instrument-state signatures use the same
// canonicalization").
func SignConfig(snap ConfigSnapshot, signer Signer) (*Envelope, error) {
	if len(signer.PrivateKey) == 0 {
		return nil, labsterr.NewComplianceError("compliance.SignConfig", labsterr.ComplianceKeyUnavailable,
			fmt.Errorf("signer %q has no private key", signer.KeyID))
	}
	canon, err := CanonicalizeConfig(snap)
	if err != nil {
		return nil, err
	}
	return signCanonical(canon, signer)
}

func signCanonical(canon []byte, signer Signer) (*Envelope, error) {
	hash := blake2b.Sum256(canon)
	sig := ed25519.Sign(signer.PrivateKey, hash[:])
	return &Envelope{
		ID:             uuid.NewString(),
		CanonicalBytes: canon,
		Hash:           hash,
		Signature:      Signature{Alg: signatureAlg, KeyID: signer.KeyID, Sig: sig},
		CreatedAt:      time.Now(),
	}, nil
}

// Verify recomputes result's canonical bytes and hash and checks env's
// signature against keys. It reports false (not an error) on a plain
// mismatch; it returns an error only when the signing key itself cannot
// be resolved.
func Verify(result instrument.Result, trace []string, env *Envelope, keys KeyStore) (bool, error) {
	canon, err := Canonicalize(result, trace)
	if err != nil {
		return false, err
	}
	return verifyCanonical(canon, env, keys)
}

// VerifyConfig is Verify's counterpart for a config snapshot envelope.
func VerifyConfig(snap ConfigSnapshot, env *Envelope, keys KeyStore) (bool, error) {
	canon, err := CanonicalizeConfig(snap)
	if err != nil {
		return false, err
	}
	return verifyCanonical(canon, env, keys)
}

// MustVerify is Verify plus a *labsterr.ComplianceError{SignatureInvalid}
// failure instead of a plain false, for callers that need to fail the
// operation outright rather than branch on a bool (e.g. a store refusing
// to persist an envelope whose signature doesn't check out).
func MustVerify(result instrument.Result, trace []string, env *Envelope, keys KeyStore) error {
	ok, err := Verify(result, trace, env, keys)
	if err != nil {
		return err
	}
	if !ok {
		return labsterr.NewComplianceError("compliance.MustVerify", labsterr.ComplianceSignatureInvalid, nil)
	}
	return nil
}

func verifyCanonical(canon []byte, env *Envelope, keys KeyStore) (bool, error) {
	hash := blake2b.Sum256(canon)
	if hash != env.Hash {
		return false, nil
	}
	pub, err := keys.PublicKey(env.Signature.KeyID)
	if err != nil {
		return false, labsterr.NewComplianceError("compliance.Verify", labsterr.ComplianceKeyUnavailable, err)
	}
	if !ed25519.Verify(pub, hash[:], env.Signature.Sig) {
		return false, nil
	}
	return true, nil
}
