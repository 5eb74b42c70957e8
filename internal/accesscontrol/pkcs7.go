package accesscontrol

import (
	"crypto/ed25519"
	"fmt"
)

// SignedDocument stands in for the PKCS#7-signed S/MIME envelope governance
// and permissions documents are wrapped in. The cryptographic primitive
// library that parses real PKCS#7/CMS structures is an external
// collaborator outside this evaluator's scope; this type carries the same
// three logical fields (the embedded payload, the signature over it, and
// the signer's public key) verified with a real, checkable signature
// rather than a parser for the ASN.1 envelope itself.
type SignedDocument struct {
	Payload   []byte
	Signature []byte
	SignerKey ed25519.PublicKey
}

// Verify checks the document's signature against its payload and the
// permissions CA's trusted key. A mismatch between SignerKey and caKey is
// treated the same as a broken signature: the CA didn't vouch for this
// signer.
func (d *SignedDocument) Verify(caKey ed25519.PublicKey) ([]byte, error) {
	if len(d.SignerKey) != ed25519.PublicKeySize || !caKey.Equal(d.SignerKey) {
		return nil, fmt.Errorf("accesscontrol: document signer is not the trusted permissions CA")
	}
	if !ed25519.Verify(d.SignerKey, d.Payload, d.Signature) {
		return nil, fmt.Errorf("accesscontrol: document signature verification failed")
	}
	return d.Payload, nil
}

// Sign produces a SignedDocument over payload using priv, for tests and for
// tooling that issues governance/permissions documents.
func Sign(priv ed25519.PrivateKey, payload []byte) SignedDocument {
	return SignedDocument{
		Payload:   payload,
		Signature: ed25519.Sign(priv, payload),
		SignerKey: priv.Public().(ed25519.PublicKey),
	}
}
