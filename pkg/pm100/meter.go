// Package pm100 drives a Thorlabs PM100USB-class optical power/energy
// meter over a SCPI request/response channel. Each accessor issues one
// command and parses a scalar or comma-separated reply; which accessors
// are valid depends on capability flags fetched once from the sensor head
// at construction.
package pm100

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"pm100/pkg/scpi"
)

// Meter commands
const (
	// Sensor and system queries
	cmdSensorIDN   = "SYST:SENSOR:IDN?" // Identify the attached sensor head
	cmdSystemError = "SYST:ERR?"        // Pop one entry from the error queue

	// Wavelength correction
	cmdWavelengthMin = "SENS:CORR:WAV? MIN"
	cmdWavelengthMax = "SENS:CORR:WAV? MAX"
	cmdWavelengthGet = "SENS:CORR:WAV?"
	cmdWavelengthSet = "SENS:CORR:WAV %g"

	// Measurements
	cmdMeasurePower  = "MEAS:POW?"
	cmdMeasureEnergy = "MEAS:ENER?"
	cmdMeasureTemp   = "MEAS:TEMP?"

	// Averaging and beam correction
	cmdAveragingGet = "SENS:AVER?"
	cmdAveragingSet = "SENS:AVER %d"
	cmdBeamGet      = "SENS:CORR:BEAM?"
	cmdBeamSet      = "SENS:CORR:BEAM %g"

	// Photodiode response
	cmdResponseGet = "SENS:CORR:POW:PDI:RESP?"
	cmdResponseSet = "SENS:CORR:POW:PDI:RESP %g"

	// Power channel range and reference
	cmdPowerRangeGet = "SENS:POW:RANG:UPP?"
	cmdPowerRangeSet = "SENS:POW:RANG:UPP %g"
	cmdAutoRangeGet  = "SENS:POW:RANG:AUTO?"
	cmdAutoRangeSet  = "SENS:POW:RANG:AUTO %d"
	cmdPowerRefGet   = "SENS:POW:REF?"
	cmdPowerRefSet   = "SENS:POW:REF %g"

	// Energy channel range and reference
	cmdEnergyRangeGet = "SENS:ENER:RANG:UPP?"
	cmdEnergyRangeSet = "SENS:ENER:RANG:UPP %g"
	cmdEnergyRefGet   = "SENS:ENER:REF?"
	cmdEnergyRefSet   = "SENS:ENER:REF %g"
)

// Meter is a handle to a connected power/energy meter. It is not safe for
// concurrent use; all calls block on the underlying channel.
type Meter struct {
	t      scpi.Transport
	sensor Sensor
	logger log.FieldLogger

	wavelengthMin float64
	wavelengthMax float64
}

// New identifies the attached sensor head and fetches the wavelength
// limits. The transport must already be established.
func New(t scpi.Transport, logger log.FieldLogger) (*Meter, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	resp, err := t.Ask(cmdSensorIDN)
	if err != nil {
		return nil, fmt.Errorf("failed to identify sensor: %v", err)
	}
	sensor, err := parseSensorIDN(resp)
	if err != nil {
		return nil, err
	}

	m := &Meter{
		t:      t,
		sensor: sensor,
		logger: logger,
	}

	if m.wavelengthMin, err = scpi.AskFloat(t, cmdWavelengthMin); err != nil {
		return nil, fmt.Errorf("failed to read minimum wavelength: %v", err)
	}
	if m.wavelengthMax, err = scpi.AskFloat(t, cmdWavelengthMax); err != nil {
		return nil, fmt.Errorf("failed to read maximum wavelength: %v", err)
	}

	m.logger.Infof("Sensor %s (s/n %s), wavelength range %g-%g nm",
		sensor.Name, sensor.Serial, m.wavelengthMin, m.wavelengthMax)

	return m, nil
}

// Sensor returns the sensor description fetched at construction.
func (m *Meter) Sensor() Sensor {
	return m.sensor
}

// WavelengthLimits returns the wavelength range of the sensor in nm.
func (m *Meter) WavelengthLimits() (min, max float64) {
	return m.wavelengthMin, m.wavelengthMax
}

// Wavelength returns the current correction wavelength in nm.
func (m *Meter) Wavelength() (float64, error) {
	return scpi.AskFloat(m.t, cmdWavelengthGet)
}

// SetWavelength sets the correction wavelength in nm. Values outside the
// sensor's range are rejected.
func (m *Meter) SetWavelength(nm float64) error {
	if !m.sensor.Flags.WavelengthSettable {
		return fmt.Errorf("wavelength is not settable for %s", m.sensor.Name)
	}
	if nm < m.wavelengthMin || nm > m.wavelengthMax {
		return fmt.Errorf("wavelength %.2f nm out of range %.2f-%.2f nm",
			nm, m.wavelengthMin, m.wavelengthMax)
	}
	return m.t.Write(fmt.Sprintf(cmdWavelengthSet, nm))
}

// Power returns a power reading in Watts.
func (m *Meter) Power() (float64, error) {
	if !m.sensor.Flags.IsPower {
		return 0, fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdMeasurePower)
}

// Energy returns an energy reading in Joules.
func (m *Meter) Energy() (float64, error) {
	if !m.sensor.Flags.IsEnergy {
		return 0, fmt.Errorf("%s is not an energy sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdMeasureEnergy)
}

// Temperature returns the sensor head temperature in Celsius.
func (m *Meter) Temperature() (float64, error) {
	if !m.sensor.Flags.HasTemperatureSensor {
		return 0, fmt.Errorf("%s has no temperature sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdMeasureTemp)
}

// MeasurePower sets the correction wavelength in nm and reads power in
// Watts.
func (m *Meter) MeasurePower(nm float64) (float64, error) {
	if err := m.SetWavelength(nm); err != nil {
		return 0, err
	}
	return m.Power()
}

// MeasureEnergy sets the correction wavelength in nm and reads energy in
// Joules.
func (m *Meter) MeasureEnergy(nm float64) (float64, error) {
	if err := m.SetWavelength(nm); err != nil {
		return 0, err
	}
	return m.Energy()
}

// Averaging returns the number of averaged measurements per reading.
func (m *Meter) Averaging() (int, error) {
	return scpi.AskInt(m.t, cmdAveragingGet)
}

// SetAveraging sets the number of averaged measurements per reading. One
// measurement takes approximately 3 ms.
func (m *Meter) SetAveraging(n int) error {
	if n < 1 {
		return fmt.Errorf("averaging count %d out of range: must be at least 1", n)
	}
	return m.t.Write(fmt.Sprintf(cmdAveragingSet, n))
}

// BeamDiameter returns the assumed beam diameter in mm.
func (m *Meter) BeamDiameter() (float64, error) {
	return scpi.AskFloat(m.t, cmdBeamGet)
}

// SetBeamDiameter sets the assumed beam diameter in mm, used for power
// density readings.
func (m *Meter) SetBeamDiameter(mm float64) error {
	if mm <= 0 {
		return fmt.Errorf("beam diameter %g mm out of range: must be positive", mm)
	}
	return m.t.Write(fmt.Sprintf(cmdBeamSet, mm))
}

// Response returns the photodiode response in A/W.
func (m *Meter) Response() (float64, error) {
	return scpi.AskFloat(m.t, cmdResponseGet)
}

// SetResponse sets the photodiode response in A/W.
func (m *Meter) SetResponse(aPerW float64) error {
	if !m.sensor.Flags.ResponseSettable {
		return fmt.Errorf("response is not settable for %s", m.sensor.Name)
	}
	if aPerW <= 0 {
		return fmt.Errorf("response %g A/W out of range: must be positive", aPerW)
	}
	return m.t.Write(fmt.Sprintf(cmdResponseSet, aPerW))
}

// PowerRange returns the upper limit of the current power range in Watts.
func (m *Meter) PowerRange() (float64, error) {
	if !m.sensor.Flags.IsPower {
		return 0, fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdPowerRangeGet)
}

// SetPowerRange selects the power range containing the given value in
// Watts.
func (m *Meter) SetPowerRange(watts float64) error {
	if !m.sensor.Flags.IsPower {
		return fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return m.t.Write(fmt.Sprintf(cmdPowerRangeSet, watts))
}

// AutoRange reports whether automatic power ranging is enabled.
func (m *Meter) AutoRange() (bool, error) {
	if !m.sensor.Flags.IsPower {
		return false, fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return scpi.AskBool(m.t, cmdAutoRangeGet)
}

// SetAutoRange enables or disables automatic power ranging.
func (m *Meter) SetAutoRange(on bool) error {
	if !m.sensor.Flags.IsPower {
		return fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return m.t.Write(fmt.Sprintf(cmdAutoRangeSet, boolToInt(on)))
}

// PowerReference returns the delta-mode power reference in Watts.
func (m *Meter) PowerReference() (float64, error) {
	if !m.sensor.Flags.IsPower {
		return 0, fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdPowerRefGet)
}

// SetPowerReference sets the delta-mode power reference in Watts.
func (m *Meter) SetPowerReference(watts float64) error {
	if !m.sensor.Flags.IsPower {
		return fmt.Errorf("%s is not a power sensor", m.sensor.Name)
	}
	return m.t.Write(fmt.Sprintf(cmdPowerRefSet, watts))
}

// EnergyRange returns the upper limit of the current energy range in
// Joules.
func (m *Meter) EnergyRange() (float64, error) {
	if !m.sensor.Flags.IsEnergy {
		return 0, fmt.Errorf("%s is not an energy sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdEnergyRangeGet)
}

// SetEnergyRange selects the energy range containing the given value in
// Joules.
func (m *Meter) SetEnergyRange(joules float64) error {
	if !m.sensor.Flags.IsEnergy {
		return fmt.Errorf("%s is not an energy sensor", m.sensor.Name)
	}
	return m.t.Write(fmt.Sprintf(cmdEnergyRangeSet, joules))
}

// EnergyReference returns the delta-mode energy reference in Joules.
func (m *Meter) EnergyReference() (float64, error) {
	if !m.sensor.Flags.IsEnergy {
		return 0, fmt.Errorf("%s is not an energy sensor", m.sensor.Name)
	}
	return scpi.AskFloat(m.t, cmdEnergyRefGet)
}

// SetEnergyReference sets the delta-mode energy reference in Joules.
func (m *Meter) SetEnergyReference(joules float64) error {
	if !m.sensor.Flags.IsEnergy {
		return fmt.Errorf("%s is not an energy sensor", m.sensor.Name)
	}
	return m.t.Write(fmt.Sprintf(cmdEnergyRefSet, joules))
}

// DeviceError is one entry from the instrument error queue.
type DeviceError struct {
	Code    int
	Message string
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// DeviceError pops one entry from the instrument error queue. A zero code
// means the queue is empty.
func (m *Meter) DeviceError() (DeviceError, error) {
	resp, err := m.t.Ask(cmdSystemError)
	if err != nil {
		return DeviceError{}, err
	}

	code, msg, found := strings.Cut(resp, ",")
	if !found {
		return DeviceError{}, fmt.Errorf("malformed error reply %q", resp)
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return DeviceError{}, fmt.Errorf("malformed error code in %q: %v", resp, err)
	}
	return DeviceError{Code: n, Message: strings.Trim(strings.TrimSpace(msg), `"`)}, nil
}

// maxErrorDrain bounds LogErrors against an instrument that keeps
// reporting errors faster than the queue drains.
const maxErrorDrain = 20

// LogErrors drains the instrument error queue, logging each entry.
// Device-reported errors are never returned to the caller.
func (m *Meter) LogErrors() {
	for i := 0; i < maxErrorDrain; i++ {
		derr, err := m.DeviceError()
		if err != nil {
			m.logger.Warnf("failed to read error queue: %v", err)
			return
		}
		if derr.Code == 0 {
			return
		}
		m.logger.Errorf("%v", derr)
	}
}

// Close closes the underlying transport.
func (m *Meter) Close() error {
	return m.t.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
