package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramer(t *testing.T) {
	table := map[string]func(t *testing.T){
		"round trip":               testRoundTrip,
		"zero length payload":      testZeroLengthPayload,
		"partial read yields more": testPartialRead,
		"decode split mid frame":   testDecodeSplitMidFrame,
		"frame too large rejected": testFrameTooLarge,
	}
	for scenario, fn := range table {
		t.Run(scenario, fn)
	}
}

func testRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("hello")))

	r := NewReader(&buf)
	payload, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
}

func testZeroLengthPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(nil))

	r := NewReader(&buf)
	payload, err := r.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, payload)
}

func testPartialRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("hello")))

	full := buf.Bytes()
	incomplete := full[:6]

	_, consumed, ok := Decode(incomplete)
	require.False(t, ok)
	require.Zero(t, consumed)
}

func testDecodeSplitMidFrame(t *testing.T) {
	full := Encode(nil, []byte("hello world"))

	for i := 0; i < len(full); i++ {
		_, _, ok := Decode(full[:i])
		if i >= len(full) {
			continue
		}
		require.False(t, ok, "decode should report not-ready at split offset %d", i)
	}

	payload, consumed, ok := Decode(full)
	require.True(t, ok)
	require.Equal(t, len(full), consumed)
	require.Equal(t, []byte("hello world"), payload)
}

func testFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
