package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSortsKeysAndTightensSeparators(t *testing.T) {
	v := map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"z": 1, "y": 2},
		"c": []interface{}{3, 2, 1},
	}
	got, err := JSON(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1,"c":[3,2,1]}`, string(got))
}

func TestJSONDeterministicAcrossRuns(t *testing.T) {
	v := map[string]interface{}{"z": 1, "a": 2, "m": 3}
	first, err := JSON(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := JSON(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHashMatchesSHA256OfCanonicalJSON(t *testing.T) {
	v := map[string]interface{}{"decision": "approve"}
	h, err := Hash(v)
	require.NoError(t, err)
	assert.Len(t, h, 32)

	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}
