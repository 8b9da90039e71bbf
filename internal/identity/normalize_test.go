package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		region  string
		want    string
		wantErr bool
	}{
		{name: "formatted US number", raw: "+1 (404) 555-1234", region: "US", want: "+14045551234"},
		{name: "bare ten digits", raw: "4045551234", region: "US", want: "+14045551234"},
		{name: "dotted", raw: "404.555.1234", region: "US", want: "+14045551234"},
		{name: "already e164", raw: "+14045551234", region: "US", want: "+14045551234"},
		{name: "uk number with region", raw: "020 7946 0958", region: "GB", want: "+442079460958"},
		{name: "empty", raw: "", region: "US", wantErr: true},
		{name: "whitespace only", raw: "   ", region: "US", wantErr: true},
		{name: "garbage", raw: "call me maybe", region: "US", wantErr: true},
		{name: "too short", raw: "5551234", region: "US", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.raw, tc.region)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantAddress string
		wantDisplay string
	}{
		{name: "bare address", raw: "Dana@Example.com", wantAddress: "dana@example.com"},
		{name: "display name form", raw: "Dana Ray <DANA@Example.com>", wantAddress: "dana@example.com", wantDisplay: "Dana Ray"},
		{name: "quoted display name", raw: `"Ray, Dana" <dana@example.com>`, wantAddress: "dana@example.com", wantDisplay: "Ray, Dana"},
		{name: "surrounding whitespace", raw: "  dana@example.com  ", wantAddress: "dana@example.com"},
		{name: "empty", raw: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			address, display := NormalizeEmail(tc.raw)
			assert.Equal(t, tc.wantAddress, address)
			assert.Equal(t, tc.wantDisplay, display)
		})
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in        string
		wantFirst string
		wantLast  string
	}{
		{in: "Dana Ray", wantFirst: "Dana", wantLast: "Ray"},
		{in: "Dana", wantFirst: "Dana"},
		{in: "Dana  van der Berg", wantFirst: "Dana", wantLast: "van der Berg"},
		{in: "  Dana Ray  ", wantFirst: "Dana", wantLast: "Ray"},
		{in: ""},
	}
	for _, tc := range tests {
		first, last := SplitName(tc.in)
		assert.Equal(t, tc.wantFirst, first)
		assert.Equal(t, tc.wantLast, last)
	}
}
