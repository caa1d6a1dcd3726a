package producer

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadJSONFromFile(t *testing.T, name string, out interface{}) {
	require.NotNil(t, out)
	b := loadBytesFromFile(t, name)
	err := json.Unmarshal(b, out)
	require.NoError(t, err, "decode %s", name)
}

func loadBytesFromFile(t *testing.T, name string) []byte {
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	return b
}
