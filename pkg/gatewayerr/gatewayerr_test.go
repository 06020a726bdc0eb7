package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := Auth("unregistered hotkey")
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeAuth, code)
}

func TestCodeOfWrapped(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Transient("chain rpc unreachable", cause)

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeTransient, code)
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfPlainError(t *testing.T) {
	_, ok := CodeOf(errors.New("not a gateway error"))
	assert.False(t, ok)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeAuth:      403,
		CodeTemporal:  400,
		CodeData:      400,
		CodeTransient: 504,
		CodeInvariant: 500,
		CodeSystemic:  500,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %s", code)
	}
}
