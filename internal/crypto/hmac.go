package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// HMACAuthenticator verifies credentials against per-identity shared
// secrets. The proof is HMAC-SHA256(secret, message).
type HMACAuthenticator struct {
	secrets map[domain.Address][]byte
}

// NewHMACAuthenticator builds an authenticator from a keyring of identity to
// secret. Identities are normalised with domain.NewAddress.
func NewHMACAuthenticator(keyring map[string][]byte) *HMACAuthenticator {
	secrets := make(map[domain.Address][]byte, len(keyring))
	for id, secret := range keyring {
		secrets[domain.NewAddress(id)] = append([]byte(nil), secret...)
	}
	return &HMACAuthenticator{secrets: secrets}
}

// Authenticate implements domain.Authenticator.
func (h *HMACAuthenticator) Authenticate(_ context.Context, cred domain.Credential, message []byte) error {
	secret, ok := h.secrets[cred.Identity]
	if !ok {
		return errorsmod.Wrapf(domain.ErrUnauthorized, "%s: no shared secret", cred.Identity)
	}
	if !hmac.Equal(HMACProof(secret, message), cred.Proof) {
		return errorsmod.Wrapf(domain.ErrUnauthorized, "%s: proof mismatch", cred.Identity)
	}
	return nil
}

// Identities returns the keyring identities in sorted order.
func (h *HMACAuthenticator) Identities() []domain.Address {
	out := make([]domain.Address, 0, len(h.secrets))
	for id := range h.secrets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuthenticator) String() string {
	ids := h.Identities()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return fmt.Sprintf("HMACAuthenticator{identities=[%s], secrets=****}", strings.Join(names, ", "))
}

// HMACProof computes HMAC-SHA256 of message using secret.
func HMACProof(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// HMACCredential builds the credential for identity over message.
func HMACCredential(identity domain.Address, secret, message []byte) domain.Credential {
	return domain.Credential{Identity: identity, Proof: HMACProof(secret, message)}
}

// ChainAuthenticator accepts a credential when any of its authenticators
// does.
type ChainAuthenticator []domain.Authenticator

// Authenticate implements domain.Authenticator.
func (c ChainAuthenticator) Authenticate(ctx context.Context, cred domain.Credential, message []byte) error {
	if len(c) == 0 {
		return errorsmod.Wrap(domain.ErrUnauthorized, "no authenticator configured")
	}
	var errs []error
	for _, a := range c {
		err := a.Authenticate(ctx, cred, message)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var (
	_ domain.Authenticator = (*HMACAuthenticator)(nil)
	_ domain.Authenticator = ChainAuthenticator(nil)
)
