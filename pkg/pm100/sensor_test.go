package pm100

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlags(t *testing.T) {
	tests := []struct {
		name     string
		raw      int
		expected Flags
	}{
		{
			name:     "no capabilities",
			raw:      0,
			expected: Flags{},
		},
		{
			name:     "power only",
			raw:      1,
			expected: Flags{IsPower: true},
		},
		{
			name:     "energy only",
			raw:      2,
			expected: Flags{IsEnergy: true},
		},
		{
			name: "photodiode head",
			raw:  1 | 16 | 32 | 256,
			expected: Flags{
				IsPower:              true,
				ResponseSettable:     true,
				WavelengthSettable:   true,
				HasTemperatureSensor: true,
			},
		},
		{
			name: "thermal head with tau",
			raw:  1 | 64,
			expected: Flags{
				IsPower:     true,
				TauSettable: true,
			},
		},
		{
			name: "everything set",
			raw:  1 | 2 | 16 | 32 | 64 | 256,
			expected: Flags{
				IsPower:              true,
				IsEnergy:             true,
				ResponseSettable:     true,
				WavelengthSettable:   true,
				TauSettable:          true,
				HasTemperatureSensor: true,
			},
		},
		{
			name:     "unassigned bits ignored",
			raw:      1 | 4 | 8 | 128,
			expected: Flags{IsPower: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, decodeFlags(tc.raw))
		})
	}
}

func TestParseSensorIDN(t *testing.T) {
	sensor, err := parseSensorIDN("S121C,12051203,18-Jun-2009,1,18,305")
	require.NoError(t, err)

	assert.Equal(t, "S121C", sensor.Name)
	assert.Equal(t, "12051203", sensor.Serial)
	assert.Equal(t, "18-Jun-2009", sensor.CalMessage)
	assert.Equal(t, "1", sensor.Type)
	assert.Equal(t, "18", sensor.Subtype)
	assert.True(t, sensor.Flags.IsPower)
	assert.True(t, sensor.Flags.WavelengthSettable)
	assert.False(t, sensor.Flags.IsEnergy)
}

func TestParseSensorIDNExtraFields(t *testing.T) {
	// Some firmware revisions insert extra fields before the flag field;
	// only the trailing field carries the capability bits.
	sensor, err := parseSensorIDN("ES120C,9910332,23-Feb-2010,2,1,0,2")
	require.NoError(t, err)

	assert.Equal(t, "ES120C", sensor.Name)
	assert.True(t, sensor.Flags.IsEnergy)
	assert.False(t, sensor.Flags.IsPower)
}

func TestParseSensorIDNMalformed(t *testing.T) {
	_, err := parseSensorIDN("S121C,12051203")
	assert.ErrorContains(t, err, "malformed sensor identification")

	_, err = parseSensorIDN("S121C,12051203,18-Jun-2009,1,18,notanumber")
	assert.ErrorContains(t, err, "malformed sensor flag field")
}
