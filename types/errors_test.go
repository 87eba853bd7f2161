package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *PDFError
		expected string
	}{
		{
			name:     "simple error",
			err:      NewPDFError(ErrCodeMalformedXref, "startxref not found"),
			expected: "[MALFORMED_XREF] startxref not found",
		},
		{
			name:     "error with cause",
			err:      WrapError(ErrCodeCorruptStream, "failed to inflate", fmt.Errorf("unexpected EOF")),
			expected: "[CORRUPT_STREAM] failed to inflate: unexpected EOF",
		},
		{
			name:     "formatted error",
			err:      NewPDFErrorf(ErrCodeMissingObject, "object %d 0 R not found", 42),
			expected: "[MISSING_OBJECT] object 42 0 R not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPDFError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := WrapError(ErrCodeCorruptStream, "stream decompression failed", cause)

	require.ErrorIs(t, err, cause)

	stacked := err.Unwrap()
	require.NotNil(t, stacked)
	assert.Equal(t, cause, errors.Unwrap(stacked))
}

func TestPDFError_Is(t *testing.T) {
	err := NewPDFError(ErrCodeMissingObject, "reference has no entry")

	assert.True(t, errors.Is(err, ErrMissingObject), "errors.Is should match ErrMissingObject sentinel")
	assert.False(t, errors.Is(err, ErrMalformedXref), "errors.Is should not match ErrMalformedXref sentinel")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrMissingObject), "wrapped error should match ErrMissingObject sentinel")
}

func TestPDFError_WithContext(t *testing.T) {
	err := NewPDFError(ErrCodeMissingObject, "object not found").
		WithContext("objectNum", 42).
		WithContext("generation", 0)

	assert.Equal(t, 42, err.Context["objectNum"])
	assert.Equal(t, 0, err.Context["generation"])
}

func TestIsPDFError(t *testing.T) {
	pdfErr := NewPDFError(ErrCodeMalformedXref, "invalid")
	stdErr := fmt.Errorf("standard error")

	got, ok := IsPDFError(pdfErr)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMalformedXref, got.Code)

	_, ok = IsPDFError(stdErr)
	assert.False(t, ok)
}

func TestGetErrorCode(t *testing.T) {
	pdfErr := NewPDFError(ErrCodeMissingObject, "object not found")

	code, ok := GetErrorCode(pdfErr)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMissingObject, code)

	_, ok = GetErrorCode(fmt.Errorf("standard error"))
	assert.False(t, ok)
}

func TestIsMissingObject(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{NewPDFError(ErrCodeMissingObject, ""), true},
		{NewPDFError(ErrCodeMalformedXref, ""), false},
		{fmt.Errorf("standard error"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsMissingObject(tt.err))
	}
}
