package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classification struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeAcceptsFencedJSON(t *testing.T) {
	got, err := Decode[classification]("```json\n{\"doc_type\":\"stadgar\",\"confidence\":0.8}\n```")
	require.NoError(t, err)
	assert.Equal(t, "stadgar", got.DocType)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestDecodeRejectsProse(t *testing.T) {
	_, err := Decode[classification]("Dokumentet är en årsredovisning.")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOutput))

	_, err = Decode[classification]("   ")
	assert.True(t, errors.Is(err, ErrInvalidOutput))
}

func TestDecodeOrFallsBack(t *testing.T) {
	fallback := classification{DocType: "ovrigt"}

	got, ok := DecodeOr("not json", fallback)
	assert.False(t, ok)
	assert.Equal(t, fallback, got)

	got, ok = DecodeOr(`{"doc_type":"kontrakt","confidence":1}`, fallback)
	assert.True(t, ok)
	assert.Equal(t, "kontrakt", got.DocType)
}
