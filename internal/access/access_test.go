package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0xad")
	operator = common.HexToAddress("0xa1")
	stranger = common.HexToAddress("0x55")
)

func TestNewManagerRejectsZeroAdmin(t *testing.T) {
	_, err := NewManager(common.Address{})
	require.ErrorIs(t, err, ErrZeroAddress)
}

func TestGrantAndRevoke(t *testing.T) {
	m, err := NewManager(admin)
	require.NoError(t, err)

	assert.False(t, m.HasCapability(operator, Alpha))
	require.NoError(t, m.Grant(admin, Alpha, operator))
	assert.True(t, m.HasCapability(operator, Alpha))
	assert.Equal(t, []common.Address{operator}, m.Members(Alpha))

	err = m.Grant(stranger, Alpha, stranger)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, m.Revoke(admin, Alpha, operator))
	assert.False(t, m.HasCapability(operator, Alpha))
}

func TestGrantValidation(t *testing.T) {
	m, err := NewManager(admin)
	require.NoError(t, err)

	require.ErrorIs(t, m.Grant(admin, Capability("ROOT"), operator), ErrUnknownCapability)
	require.ErrorIs(t, m.Grant(admin, Alpha, common.Address{}), ErrZeroAddress)
}

func TestLastAdminCannotLeave(t *testing.T) {
	m, err := NewManager(admin)
	require.NoError(t, err)

	require.ErrorIs(t, m.Renounce(admin, Admin), ErrLastAdmin)

	require.NoError(t, m.Grant(admin, Admin, operator))
	require.NoError(t, m.Renounce(admin, Admin))
	assert.False(t, m.HasCapability(admin, Admin))
	assert.True(t, m.HasCapability(operator, Admin))
}

func TestRequire(t *testing.T) {
	m, err := NewManager(admin)
	require.NoError(t, err)
	assert.NoError(t, Require(m, admin, Admin))
	assert.ErrorIs(t, Require(m, stranger, Admin), ErrUnauthorized)
	assert.ErrorIs(t, Require(nil, admin, Admin), ErrUnauthorized)
}
