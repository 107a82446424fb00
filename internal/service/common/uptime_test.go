package common

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseUptime covers the /proc/uptime format and its failure modes.
func TestParseUptime(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		contents string
		want     time.Duration
		wantErr  bool
	}{
		{
			name:     "typical",
			contents: "12345.67 23456.78\n",
			want:     time.Duration(12345.67 * float64(time.Second)),
		},
		{
			name:     "single_field",
			contents: "300.00",
			want:     5 * time.Minute,
		},
		{
			name:     "empty",
			contents: "",
			wantErr:  true,
		},
		{
			name:     "garbage",
			contents: "soon maybe\n",
			wantErr:  true,
		},
		{
			name:     "negative",
			contents: "-5.0 10.0\n",
			wantErr:  true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseUptime(tc.contents)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestUptime reads the live /proc/uptime on Linux hosts.
func TestUptime(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" {
		t.Skip("requires /proc/uptime")
	}

	got, err := Uptime()
	require.NoError(t, err)
	require.Positive(t, got)
}
