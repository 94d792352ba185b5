package collector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDecodeTextUTF8BOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	text, kind, err := decodeText(raw)
	require.NoError(t, err)
	require.Equal(t, "UTF-8-BOM", kind)
	require.Equal(t, "hello", text)
}

func TestDecodeTextPlainUTF8(t *testing.T) {
	text, kind, err := decodeText([]byte("业务流水号"))
	require.NoError(t, err)
	require.Equal(t, "UTF-8", kind)
	require.Equal(t, "业务流水号", text)
}

func TestDecodeTextGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("业务流水号")
	require.NoError(t, err)

	text, kind, err := decodeText([]byte(encoded))
	require.NoError(t, err)
	require.Contains(t, []string{"GBK", "GB18030"}, kind)
	require.Equal(t, "业务流水号", text)
}
