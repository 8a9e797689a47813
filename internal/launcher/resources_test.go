package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "empty means unlimited", input: "", want: 0},
		{name: "zero means unlimited", input: "0", want: 0},
		{name: "kilobytes", input: "1024k", want: 1024 * 1024},
		{name: "megabytes", input: "512m", want: 512 * 1024 * 1024},
		{name: "gigabytes uppercase", input: "2G", want: 2 * 1024 * 1024 * 1024},
		{name: "bare bytes", input: "100", want: 100},
		{name: "surrounding whitespace", input: " 1g ", want: 1024 * 1024 * 1024},
		{name: "garbage", input: "lots", wantErr: true},
		{name: "fractional", input: "1.5g", wantErr: true},
		{name: "negative", input: "-1g", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseMemoryLimit(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCPULimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "empty means unlimited", input: "", want: 0},
		{name: "one cpu", input: "1", want: 100000},
		{name: "half cpu", input: "0.5", want: 50000},
		{name: "two and a half", input: "2.5", want: 250000},
		{name: "garbage", input: "many", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseCPULimit(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
