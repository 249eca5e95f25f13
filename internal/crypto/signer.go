package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// signatureLen is the length of an r || s || v secp256k1 signature.
const signatureLen = 65

// Signer produces EIP-191 personal-sign signatures over canonical operation
// messages, so an oracle or admin holding the key can build credentials.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Identity returns the signer's address as a domain identity.
func (s *Signer) Identity() domain.Address {
	return domain.Address(s.address.Hex())
}

// Sign returns the 65-byte signature of message with v in {27, 28}.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(personalHash(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Credential signs message and returns the credential that proves control
// of the signer's address for it.
func (s *Signer) Credential(message []byte) (domain.Credential, error) {
	sig, err := s.Sign(message)
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{Identity: s.Identity(), Proof: sig}, nil
}

// SignatureAuthenticator verifies credentials whose identity is a hex
// address and whose proof is a personal-sign signature by that address.
type SignatureAuthenticator struct{}

// NewSignatureAuthenticator returns a SignatureAuthenticator.
func NewSignatureAuthenticator() *SignatureAuthenticator {
	return &SignatureAuthenticator{}
}

// Authenticate implements domain.Authenticator.
func (SignatureAuthenticator) Authenticate(_ context.Context, cred domain.Credential, message []byte) error {
	if !common.IsHexAddress(string(cred.Identity)) {
		return errorsmod.Wrapf(domain.ErrUnauthorized, "%q is not a hex address", cred.Identity)
	}
	signer, err := RecoverAddress(message, cred.Proof)
	if err != nil {
		return errorsmod.Wrapf(domain.ErrUnauthorized, "%s: %v", cred.Identity, err)
	}
	if signer != common.HexToAddress(string(cred.Identity)) {
		return errorsmod.Wrapf(domain.ErrUnauthorized, "%s: signature by %s", cred.Identity, signer.Hex())
	}
	return nil
}

// RecoverAddress returns the address that produced sig over message.
func RecoverAddress(message, sig []byte) (common.Address, error) {
	if len(sig) != signatureLen {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", signatureLen, len(sig))
	}
	normalised := make([]byte, signatureLen)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(personalHash(message), normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// personalHash computes the EIP-191 digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalHash(message []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))
	return ethcrypto.Keccak256(concatBytes([]byte(prefix), message))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

var _ domain.Authenticator = SignatureAuthenticator{}
