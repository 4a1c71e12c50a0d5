// Package sim provides a simulated power meter that speaks the same SCPI
// surface as the real instrument, for development without hardware.
package sim

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

const (
	sensorName   = "S121C"
	sensorSerial = "SIM0001"
	sensorCal    = "1-Jan-2026"

	// Photodiode power sensor: power, settable response, settable
	// wavelength, temperature sensor.
	sensorFlags = 1 | 16 | 32 | 256

	wavelengthMin = 400.0
	wavelengthMax = 1100.0

	// Polls until a zero adjustment reports done.
	zeroPolls = 3
)

// Meter implements scpi.Transport in memory.
type Meter struct {
	replies []string
	errs    []string

	wavelength   float64
	averaging    int
	beamDiameter float64
	response     float64
	powerRange   float64
	powerRef     float64
	autoRange    bool

	zeroRemaining int
	zeroMagnitude float64
	closed        bool
}

// New returns a simulated meter with an S121C-like photodiode sensor
// attached.
func New() *Meter {
	return &Meter{
		wavelength:   1064,
		averaging:    1,
		beamDiameter: 9.5,
		response:     0.5,
		powerRange:   5e-3,
		autoRange:    true,
	}
}

func (m *Meter) reply(s string) {
	m.replies = append(m.replies, s)
}

func (m *Meter) deviceError(code int, msg string) {
	m.errs = append(m.errs, fmt.Sprintf("%d,\"%s\"", code, msg))
}

// Write handles one command, queueing a reply if it is a query.
func (m *Meter) Write(cmd string) error {
	if m.closed {
		return fmt.Errorf("sim: transport closed")
	}

	cmd = strings.TrimSpace(cmd)
	head, arg, _ := strings.Cut(cmd, " ")

	if strings.HasSuffix(head, "?") {
		m.handleQuery(strings.TrimSuffix(head, "?"), arg)
		return nil
	}

	switch head {
	case "SENS:CORR:WAV":
		m.setFloat(&m.wavelength, arg)
	case "SENS:AVER":
		if n, err := strconv.Atoi(arg); err == nil {
			m.averaging = n
		} else {
			m.deviceError(-104, "Data type error")
		}
	case "SENS:CORR:BEAM":
		m.setFloat(&m.beamDiameter, arg)
	case "SENS:CORR:POW:PDI:RESP":
		m.setFloat(&m.response, arg)
	case "SENS:POW:RANG:UPP":
		m.setFloat(&m.powerRange, arg)
	case "SENS:POW:RANG:AUTO":
		m.autoRange = arg == "1"
	case "SENS:POW:REF":
		m.setFloat(&m.powerRef, arg)
	case "SENS:CORR:COLL:ZERO:INIT":
		m.zeroRemaining = zeroPolls
	case "SENS:CORR:COLL:ZERO:ABOR":
		m.zeroRemaining = 0
	default:
		m.deviceError(-113, "Undefined header")
	}
	return nil
}

func (m *Meter) handleQuery(head, arg string) {
	switch head {
	case "SYST:SENSOR:IDN":
		m.reply(fmt.Sprintf("%s,%s,%s,1,18,%d", sensorName, sensorSerial, sensorCal, sensorFlags))
	case "SYST:ERR":
		if len(m.errs) == 0 {
			m.reply(`0,"No error"`)
		} else {
			m.reply(m.errs[0])
			m.errs = m.errs[1:]
		}
	case "SENS:CORR:WAV":
		switch arg {
		case "MIN":
			m.replyFloat(wavelengthMin)
		case "MAX":
			m.replyFloat(wavelengthMax)
		default:
			m.replyFloat(m.wavelength)
		}
	case "MEAS:POW":
		// Reading around 1 mW with some noise.
		m.replyFloat(1e-3 * (1 + 0.01*rand.Float64()))
	case "MEAS:TEMP":
		m.replyFloat(23.5)
	case "SENS:AVER":
		m.reply(strconv.Itoa(m.averaging))
	case "SENS:CORR:BEAM":
		m.replyFloat(m.beamDiameter)
	case "SENS:CORR:POW:PDI:RESP":
		m.replyFloat(m.response)
	case "SENS:POW:RANG:UPP":
		m.replyFloat(m.powerRange)
	case "SENS:POW:RANG:AUTO":
		if m.autoRange {
			m.reply("1")
		} else {
			m.reply("0")
		}
	case "SENS:POW:REF":
		m.replyFloat(m.powerRef)
	case "SENS:CORR:COLL:ZERO:STAT":
		if m.zeroRemaining > 0 {
			m.zeroRemaining--
			if m.zeroRemaining == 0 {
				m.zeroMagnitude = 1e-7 * rand.Float64()
			}
			m.reply("1")
		} else {
			m.reply("0")
		}
	case "SENS:CORR:COLL:ZERO:MAGN":
		m.replyFloat(m.zeroMagnitude)
	default:
		m.deviceError(-113, "Undefined header")
		m.reply("0")
	}
}

func (m *Meter) setFloat(dst *float64, arg string) {
	if v, err := strconv.ParseFloat(arg, 64); err == nil {
		*dst = v
	} else {
		m.deviceError(-104, "Data type error")
	}
}

func (m *Meter) replyFloat(v float64) {
	m.reply(strconv.FormatFloat(v, 'g', -1, 64))
}

// Read pops the next queued reply.
func (m *Meter) Read() (string, error) {
	if m.closed {
		return "", fmt.Errorf("sim: transport closed")
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("sim: read with no pending reply")
	}
	resp := m.replies[0]
	m.replies = m.replies[1:]
	return resp, nil
}

// Ask sends a query and reads the reply.
func (m *Meter) Ask(cmd string) (string, error) {
	if err := m.Write(cmd); err != nil {
		return "", err
	}
	return m.Read()
}

func (m *Meter) Close() error {
	m.closed = true
	return nil
}
