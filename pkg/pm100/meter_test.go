package pm100

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves scripted replies and records every command sent.
// The last scripted reply for a command is sticky.
type fakeTransport struct {
	replies map[string][]string
	log     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string][]string)}
}

func (f *fakeTransport) on(cmd string, replies ...string) {
	f.replies[cmd] = append(f.replies[cmd], replies...)
}

func (f *fakeTransport) Write(cmd string) error {
	f.log = append(f.log, cmd)
	return nil
}

func (f *fakeTransport) Read() (string, error) {
	return "", fmt.Errorf("unexpected Read")
}

func (f *fakeTransport) Ask(cmd string) (string, error) {
	f.log = append(f.log, cmd)
	q := f.replies[cmd]
	if len(q) == 0 {
		return "", fmt.Errorf("no scripted reply for %q", cmd)
	}
	resp := q[0]
	if len(q) > 1 {
		f.replies[cmd] = q[1:]
	}
	return resp, nil
}

func (f *fakeTransport) Close() error { return nil }

// newTestMeter builds a meter over a fake transport with the given sensor
// flag field.
func newTestMeter(t *testing.T, flags int) (*Meter, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport()
	ft.on(cmdSensorIDN, fmt.Sprintf("S121C,12051203,18-Jun-2009,1,18,%d", flags))
	ft.on(cmdWavelengthMin, "400")
	ft.on(cmdWavelengthMax, "1100")

	logger, _ := test.NewNullLogger()
	m, err := New(ft, logger)
	require.NoError(t, err)
	return m, ft
}

func TestNewFetchesSensorAndLimits(t *testing.T) {
	m, ft := newTestMeter(t, 305)

	assert.Equal(t, "S121C", m.Sensor().Name)
	assert.Equal(t, "12051203", m.Sensor().Serial)

	min, max := m.WavelengthLimits()
	assert.Equal(t, 400.0, min)
	assert.Equal(t, 1100.0, max)

	assert.Equal(t, []string{cmdSensorIDN, cmdWavelengthMin, cmdWavelengthMax}, ft.log)
}

func TestEnergyRequiresEnergySensor(t *testing.T) {
	m, ft := newTestMeter(t, 1|32)
	sent := len(ft.log)

	_, err := m.Energy()
	assert.ErrorContains(t, err, "not an energy sensor")
	assert.Len(t, ft.log, sent, "no command should reach the instrument")
}

func TestPowerRequiresPowerSensor(t *testing.T) {
	m, _ := newTestMeter(t, 2)

	_, err := m.Power()
	assert.ErrorContains(t, err, "not a power sensor")
}

func TestMeasurePowerSetsWavelengthFirst(t *testing.T) {
	m, ft := newTestMeter(t, 1|32)
	ft.on(cmdMeasurePower, "1.234e-3")

	value, err := m.MeasurePower(650)
	require.NoError(t, err)
	assert.InDelta(t, 1.234e-3, value, 1e-12)

	n := len(ft.log)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "SENS:CORR:WAV 650", ft.log[n-2])
	assert.Equal(t, cmdMeasurePower, ft.log[n-1])
}

func TestSetWavelength(t *testing.T) {
	tests := []struct {
		name    string
		flags   int
		nm      float64
		sent    string
		wantErr string
	}{
		{name: "in range", flags: 1 | 32, nm: 532, sent: "SENS:CORR:WAV 532"},
		{name: "below minimum", flags: 1 | 32, nm: 200, wantErr: "out of range"},
		{name: "above maximum", flags: 1 | 32, nm: 2000, wantErr: "out of range"},
		{name: "not settable", flags: 1, nm: 532, wantErr: "not settable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, ft := newTestMeter(t, tc.flags)

			err := m.SetWavelength(tc.nm)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.sent, ft.log[len(ft.log)-1])
		})
	}
}

func TestSetAveraging(t *testing.T) {
	m, ft := newTestMeter(t, 1)

	assert.ErrorContains(t, m.SetAveraging(0), "at least 1")

	require.NoError(t, m.SetAveraging(100))
	assert.Equal(t, "SENS:AVER 100", ft.log[len(ft.log)-1])
}

func TestSetBeamDiameter(t *testing.T) {
	m, ft := newTestMeter(t, 1)

	assert.ErrorContains(t, m.SetBeamDiameter(-1), "must be positive")

	require.NoError(t, m.SetBeamDiameter(9.5))
	assert.Equal(t, "SENS:CORR:BEAM 9.5", ft.log[len(ft.log)-1])
}

func TestSetResponseRequiresFlag(t *testing.T) {
	m, _ := newTestMeter(t, 1)
	assert.ErrorContains(t, m.SetResponse(0.5), "not settable")

	m, ft := newTestMeter(t, 1|16)
	require.NoError(t, m.SetResponse(0.5))
	assert.Equal(t, "SENS:CORR:POW:PDI:RESP 0.5", ft.log[len(ft.log)-1])
}

func TestEnergyRangeAndReference(t *testing.T) {
	m, ft := newTestMeter(t, 2)
	ft.on(cmdEnergyRangeGet, "1e-3")

	r, err := m.EnergyRange()
	require.NoError(t, err)
	assert.Equal(t, 1e-3, r)

	require.NoError(t, m.SetEnergyReference(5e-4))
	assert.Equal(t, "SENS:ENER:REF 0.0005", ft.log[len(ft.log)-1])

	// Energy channel settings are invalid on a power-only head.
	m, _ = newTestMeter(t, 1)
	assert.ErrorContains(t, m.SetEnergyRange(1e-3), "not an energy sensor")
}

func TestAutoRange(t *testing.T) {
	m, ft := newTestMeter(t, 1)
	ft.on(cmdAutoRangeGet, "1")

	on, err := m.AutoRange()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, m.SetAutoRange(false))
	assert.Equal(t, "SENS:POW:RANG:AUTO 0", ft.log[len(ft.log)-1])
}

func TestDeviceError(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		expected    DeviceError
		expectError bool
	}{
		{
			name:     "no error",
			reply:    `0,"No error"`,
			expected: DeviceError{Code: 0, Message: "No error"},
		},
		{
			name:     "parameter error",
			reply:    `-220,"Parameter error"`,
			expected: DeviceError{Code: -220, Message: "Parameter error"},
		},
		{
			name:        "missing comma",
			reply:       "garbage",
			expectError: true,
		},
		{
			name:        "non-numeric code",
			reply:       `abc,"message"`,
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, ft := newTestMeter(t, 1)
			ft.on(cmdSystemError, tc.reply)

			derr, err := m.DeviceError()
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, derr)
		})
	}
}

func TestLogErrorsDrainsQueueWithoutFailing(t *testing.T) {
	logger, hook := test.NewNullLogger()

	ft := newFakeTransport()
	ft.on(cmdSensorIDN, "S121C,12051203,18-Jun-2009,1,18,1")
	ft.on(cmdWavelengthMin, "400")
	ft.on(cmdWavelengthMax, "1100")
	ft.on(cmdSystemError, `-113,"Undefined header"`, `-220,"Parameter error"`, `0,"No error"`)

	m, err := New(ft, logger)
	require.NoError(t, err)
	hook.Reset()

	m.LogErrors()

	require.Len(t, hook.Entries, 2)
	assert.Contains(t, hook.Entries[0].Message, "Undefined header")
	assert.Contains(t, hook.Entries[1].Message, "Parameter error")
}
