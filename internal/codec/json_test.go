package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEncoderDoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.NewEncoder(&buf).Encode(map[string]any{"Query": "from Orders where Total > $p0"}))
	assert.Contains(t, buf.String(), "Total > $p0")
}

func TestJSONDecoder(t *testing.T) {
	var out map[string]any
	require.NoError(t, JSON{}.NewDecoder(bytes.NewBufferString(`{"Name":"John","Age":21}`)).Decode(&out))
	assert.Equal(t, map[string]any{"Name": "John", "Age": float64(21)}, out)
}
