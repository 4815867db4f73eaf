package consensus

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

var suite = suites.MustFind("Ed25519")

// KeyPair is a party's signing identity.
type KeyPair struct {
	Public  kyber.Point
	Private kyber.Scalar
}

// NewKeyPair draws a fresh Schnorr key pair on the Ed25519 group.
func NewKeyPair() KeyPair {
	priv := suite.Scalar().Pick(suite.RandomStream())
	return KeyPair{
		Public:  suite.Point().Mul(priv, nil),
		Private: priv,
	}
}

// signingBytes returns the canonical JSON of the fields covered by the
// signature. Seq is excluded because the log assigns it after signing.
func (e Event) signingBytes() ([]byte, error) {
	b, err := json.Marshal(struct {
		ID       string          `json:"id"`
		Version  string          `json:"v"`
		Type     EventType       `json:"type"`
		AuthorID string          `json:"author_id"`
		Payload  json.RawMessage `json:"payload"`
	}{e.ID, e.Version, e.Type, e.AuthorID, e.Payload})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(b)
}

// Sign signs the event with the given private key.
func (e *Event) Sign(priv kyber.Scalar) error {
	b, err := e.signingBytes()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(suite, priv, b)
	if err != nil {
		return fmt.Errorf("consensus: sign event: %w", err)
	}
	e.Signature = sig
	return nil
}

// VerifySignature verifies the event's signature using the provided public key.
// Returns false if verification fails or an error if the signature is missing or serialization fails.
func (e Event) VerifySignature(pub kyber.Point) (bool, error) {
	if len(e.Signature) == 0 {
		return false, errors.New("missing signature")
	}
	b, err := e.signingBytes()
	if err != nil {
		return false, err
	}
	return schnorr.Verify(suite, pub, b, e.Signature) == nil, nil
}

// EncodePublicKey renders a public key for transport.
func EncodePublicKey(p kyber.Point) (string, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePublicKey parses a key produced by EncodePublicKey.
func DecodePublicKey(s string) (kyber.Point, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("consensus: decode public key: %w", err)
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("consensus: decode public key: %w", err)
	}
	return p, nil
}
