package gc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"42", 42},
		{"42k", 43008},
		{"42K", 43008},
		{"42m", 44040192},
		{"42M", 44040192},
		{"1g", 1 << 30},
		{"42M43k44", 44084268},
		{"1k1k", 2048},
		{"007", 7},
		{"18446744073709551615", 1<<64 - 1},
	} {
		got, err := ParseSize(tc.in)
		if !assert.NoError(t, err, tc.in) {
			continue
		}
		assert.Equal(t, tc.want, got, "ParseSize(%q)", tc.in)
	}
}

func TestParseSizeErrors(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want error
	}{
		{"", errEmptySize},
		{"k", errMissingDigits},
		{"42kk", errMissingDigits},
		{"42x", errBadSizeChar},
		{"-1", errBadSizeChar},
		{"4 2", errBadSizeChar},
		{"18446744073709551616", errSizeOverflow},
		{"17179869184g", errSizeOverflow},
		{"17179869183g17179869183g", errSizeOverflow},
	} {
		_, err := ParseSize(tc.in)
		require.Error(t, err, tc.in)
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr), tc.in)
		assert.Equal(t, "size", cfgErr.Option)
		assert.Equal(t, tc.in, cfgErr.Value)
		assert.True(t, errors.Is(err, tc.want), "ParseSize(%q) returned %v, want %v", tc.in, err, tc.want)
	}
}

func TestParseSizeOption(t *testing.T) {
	_, err := ParseSizeOption("threshold", "1x")
	require.Error(t, err)
	assert.Equal(t, `invalid threshold "1x": 'x' at offset 1: unexpected character`, err.Error())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "1.00MB", FormatSize(1<<20))
	assert.Equal(t, "512.00B", FormatSize(512))
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("refcount")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "gc", cfgErr.Option)
}

func TestTenureOutOfRange(t *testing.T) {
	_, err := New(Options{Kind: Generational, TenureAge: 300})
	require.Error(t, err)
	assert.EqualError(t, err, `invalid tenure "300": age does not fit the header`)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "300", cfgErr.Value)
}

func TestPolicy(t *testing.T) {
	p := Policy{Threshold: 100}
	p.NoteAlloc(60)
	assert.False(t, p.Due())
	assert.False(t, p.CollectFirst())
	p.NoteAlloc(40)
	assert.True(t, p.Due())
	p.Reset(30)
	assert.Equal(t, uint64(0), p.Allocated())
	assert.Equal(t, uint64(30), p.Live())
	assert.Equal(t, uint64(130), p.Next())
	assert.False(t, p.Due())
	p.Stress = true
	assert.True(t, p.CollectFirst())
}
