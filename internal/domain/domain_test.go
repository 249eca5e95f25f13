package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrUnauthorized, KindAuthorization},
		{ErrNotAdmin, KindAuthorization},
		{ErrInvalidApprover, KindNotFound},
		{ErrNotRegistered, KindNotFound},
		{ErrNotInitialized, KindNotFound},
		{ErrMarketNotRegistered, KindNotFound},
		{ErrConsensusResultNotFound, KindNotFound},
		{ErrInvalidOutcome, KindValidation},
		{ErrRegistryFull, KindValidation},
		{ErrDuplicateApprover, KindStateConflict},
		{ErrDuplicateVote, KindStateConflict},
		{ErrTooEarly, KindTemporal},
		{ErrCooldownActive, KindTemporal},
		{ErrLockHeld, KindUnavailable},
		{errors.New("disk on fire"), KindInternal},
		{nil, KindInternal},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("oracle: submit: %w", errorsmod.Wrapf(ErrTooEarly, "market %s", "0x01"))
	assert.Equal(t, KindTemporal, KindOf(err))
	assert.True(t, errors.Is(err, ErrTooEarly))

	space, code := CodeOf(err)
	assert.Equal(t, Codespace, space)
	assert.EqualValues(t, 40, code)
}

func TestParseMarketID(t *testing.T) {
	id, err := ParseMarketID("0xab" + strings.Repeat("00", 30) + "01")
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), id[0])
	assert.Equal(t, byte(0x01), id[31])

	_, err = ParseMarketID("0x1234")
	assert.Error(t, err)
	_, err = ParseMarketID("nothex")
	assert.Error(t, err)
}

func TestNewAddress(t *testing.T) {
	assert.Equal(t,
		Address("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		NewAddress(" 0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266 "))
	assert.Equal(t, Address("oracle-a"), NewAddress("oracle-a"))
}

func TestCredential_JSONNormalisesIdentity(t *testing.T) {
	var c Credential
	require.NoError(t, json.Unmarshal([]byte(`{"identity":"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266","proof":"0x0102"}`), &c))
	assert.Equal(t, Address("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), c.Identity)
	assert.Equal(t, []byte{1, 2}, []byte(c.Proof))

	assert.Error(t, json.Unmarshal([]byte(`{"identity":7}`), &c))
}

func TestOutcome(t *testing.T) {
	assert.True(t, OutcomeNo.Valid())
	assert.True(t, OutcomeYes.Valid())
	assert.False(t, Outcome(2).Valid())
	assert.Equal(t, "yes", OutcomeYes.String())
	assert.Equal(t, "invalid(7)", Outcome(7).String())
}

func TestAdminConfig_IsSigner(t *testing.T) {
	cfg := AdminConfig{Signers: []Address{"a", "b"}}
	assert.True(t, cfg.IsSigner("b"))
	assert.False(t, cfg.IsSigner("c"))
}
