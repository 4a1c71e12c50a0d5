package pm100

import (
	"fmt"
	"time"

	"pm100/pkg/scpi"
)

// Zero adjustment commands
const (
	cmdZeroInitiate  = "SENS:CORR:COLL:ZERO:INIT"
	cmdZeroState     = "SENS:CORR:COLL:ZERO:STAT?"
	cmdZeroAbort     = "SENS:CORR:COLL:ZERO:ABOR"
	cmdZeroMagnitude = "SENS:CORR:COLL:ZERO:MAGN?"
)

const zeroPollInterval = 100 * time.Millisecond

// ZeroAdjust starts a zero adjustment and polls until the instrument
// reports completion or the timeout elapses. The input must be blocked
// while the adjustment runs. On timeout the adjustment is aborted and a
// warning is logged; only transport failures are returned as errors.
func (m *Meter) ZeroAdjust(timeout time.Duration) error {
	if err := m.t.Write(cmdZeroInitiate); err != nil {
		return fmt.Errorf("failed to start zero adjustment: %v", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		running, err := scpi.AskBool(m.t, cmdZeroState)
		if err != nil {
			return fmt.Errorf("failed to poll zero adjustment: %v", err)
		}
		if !running {
			m.logger.Debug("Zero adjustment finished")
			return nil
		}
		if time.Now().After(deadline) {
			m.logger.Warnf("Zero adjustment timed out after %s, aborting", timeout)
			return m.t.Write(cmdZeroAbort)
		}
		time.Sleep(zeroPollInterval)
	}
}

// ZeroMagnitude returns the offset applied by the last zero adjustment.
func (m *Meter) ZeroMagnitude() (float64, error) {
	return scpi.AskFloat(m.t, cmdZeroMagnitude)
}
