package webhook

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// DefaultPublicKeyPEM is the provider's published signing key. Deployments
// can override it through webhook.public_key_pem.
const DefaultPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAxoUSpzWuteTFiihinuRm
3MKEmszKK/ihZp/Z68gjrKQxiPPxlPa8EiQAamokwE3lcs8vj3G8WQkRojGihZOD
tKuFURl41/O+H3fUHWyZwcxu7Bh1+8rN9+251ovASl5t59AEjN4D7ws/MI3drf3p
szTOz/0y/31hK9RRSg47L9b58BikiIyNUwH0U2hJDqdejvzkCdQMJJ/g8W8X69ZR
rwM/oMXclY/8+T9UpQh+CO8U5dL5TGFn1/qo7P2oYxvk6LJPT9I5x69UUuNDL/Cz
aZFkOb0xVi1gVdkqda5MN80qFs33YwvU8YqxZUlcONP+m0I85Ito6V1ABA5YtDyi
LwIDAQAB
-----END PUBLIC KEY-----`

// SignatureVerifier checks the provider's RSA-SHA256 detached signature over
// the exact raw request body.
type SignatureVerifier struct {
	publicKey *rsa.PublicKey
}

// NewSignatureVerifier parses a PEM-encoded RSA public key. An empty input
// falls back to the embedded provider key.
func NewSignatureVerifier(publicKeyPEM string) (*SignatureVerifier, error) {
	if publicKeyPEM == "" {
		publicKeyPEM = DefaultPublicKeyPEM
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}

	return &SignatureVerifier{publicKey: rsaKey}, nil
}

// Verify returns nil only when signatureB64 is a valid base64-encoded
// PKCS#1 v1.5 signature over SHA-256(body). The body must be the raw bytes
// as received; any re-serialization breaks verification.
func (v *SignatureVerifier) Verify(body []byte, signatureB64 string) error {
	if signatureB64 == "" {
		return fmt.Errorf("missing signature")
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}

	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
