package pm100

import (
	"fmt"
	"strconv"

	"pm100/pkg/scpi"
)

// Flags are the sensor capability bits reported in the trailing field of
// the SYST:SENSOR:IDN? reply. They are fixed for the lifetime of the
// session and gate which operations are valid for the attached sensor.
type Flags struct {
	IsPower              bool
	IsEnergy             bool
	ResponseSettable     bool
	WavelengthSettable   bool
	TauSettable          bool
	HasTemperatureSensor bool
}

const (
	flagIsPower            = 1 << 0
	flagIsEnergy           = 1 << 1
	flagResponseSettable   = 1 << 4
	flagWavelengthSettable = 1 << 5
	flagTauSettable        = 1 << 6
	flagTemperatureSensor  = 1 << 8
)

func decodeFlags(v int) Flags {
	return Flags{
		IsPower:              v&flagIsPower != 0,
		IsEnergy:             v&flagIsEnergy != 0,
		ResponseSettable:     v&flagResponseSettable != 0,
		WavelengthSettable:   v&flagWavelengthSettable != 0,
		TauSettable:          v&flagTauSettable != 0,
		HasTemperatureSensor: v&flagTemperatureSensor != 0,
	}
}

// Sensor describes the measurement head attached to the meter.
type Sensor struct {
	Name       string
	Serial     string
	CalMessage string
	Type       string
	Subtype    string
	Flags      Flags
}

// parseSensorIDN decodes the comma-separated SYST:SENSOR:IDN? reply:
// name, serial, calibration message, type, subtype, ..., numeric flag field.
func parseSensorIDN(resp string) (Sensor, error) {
	fields := scpi.Values(resp)
	if len(fields) < 6 {
		return Sensor{}, fmt.Errorf("malformed sensor identification %q", resp)
	}

	raw, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return Sensor{}, fmt.Errorf("malformed sensor flag field %q: %v", fields[len(fields)-1], err)
	}

	return Sensor{
		Name:       fields[0],
		Serial:     fields[1],
		CalMessage: fields[2],
		Type:       fields[3],
		Subtype:    fields[4],
		Flags:      decodeFlags(raw),
	}, nil
}
