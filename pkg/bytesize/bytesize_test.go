package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"32KiB", 32 * KB, false},
		{"32kb", 32 * KB, false},
		{"1.5 MB", MB + MB/2, false},
		{"2Gi", 2 * GB, false},
		{"", 0, true},
		{"ten", 0, true},
		{"5XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10MB/s", 10 * MB, false},
		{"10 mib/s", 10 * MB, false},
		{"80mbps", 10 * 1000 * 1000, false},
		{"800bps", 100, false},
		{"1gbps", Gbps, false},
		{"10MB", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "32.00 KiB", Format(32*KB))
	assert.Equal(t, "1.50 GiB", Format(GB+GB/2))
	assert.Equal(t, "10.00 MiB/s", FormatRate(float64(10*MB)))
	assert.Equal(t, "12 B/s", FormatRate(12))
}

func TestYAMLTypes(t *testing.T) {
	var doc struct {
		Buffer  Size `yaml:"buffer"`
		Raw     Size `yaml:"raw"`
		RxRate  Rate `yaml:"rx_rate"`
		TxRate  Rate `yaml:"tx_rate"`
		Numeric Rate `yaml:"numeric"`
	}
	input := `
buffer: 32KiB
raw: 4096
rx_rate: 10MB/s
tx_rate: ""
numeric: 1000
`
	require.NoError(t, yaml.Unmarshal([]byte(input), &doc))
	assert.Equal(t, 32*KB, doc.Buffer.Bytes())
	assert.Equal(t, int64(4096), doc.Raw.Bytes())
	assert.Equal(t, float64(10*MB), doc.RxRate.BytesPerSecond())
	assert.Zero(t, doc.TxRate)
	assert.Equal(t, Rate(1000), doc.Numeric)

	var bad struct {
		Rate Rate `yaml:"rate"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("rate: fast"), &bad))
}
