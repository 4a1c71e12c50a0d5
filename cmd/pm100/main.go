package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"pm100/pkg/pm100"
	"pm100/pkg/scpi"
	"pm100/pkg/sim"
	"pm100/pkg/stream"
)

func openTransport(c *cli.Context) (scpi.Transport, error) {
	if c.Bool("sim") {
		log.Info("Using simulated meter")
		return sim.New(), nil
	}
	if addr := c.String("addr"); addr != "" {
		return scpi.Dial(addr)
	}
	if port := c.String("port"); port != "" {
		return scpi.OpenSerial(port, c.Int("baud"))
	}
	return nil, fmt.Errorf("one of --port, --addr or --sim is required")
}

func openStore(c *cli.Context) (*pm100.Store, *bolt.DB, error) {
	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %v", err)
	}

	store, err := pm100.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create store: %v", err)
	}
	return store, db, nil
}

// openMeter connects to the instrument and applies the stored settings.
func openMeter(c *cli.Context, store *pm100.Store) (*pm100.Meter, error) {
	t, err := openTransport(c)
	if err != nil {
		return nil, err
	}

	meter, err := pm100.New(t, log.WithField("device", "pm100"))
	if err != nil {
		t.Close()
		return nil, err
	}

	settings, err := store.GetSettings()
	if err != nil {
		meter.Close()
		return nil, fmt.Errorf("failed to get meter settings: %v", err)
	}
	if err := meter.Apply(settings); err != nil {
		meter.Close()
		return nil, fmt.Errorf("failed to apply meter settings: %v", err)
	}
	meter.LogErrors()

	return meter, nil
}

func runInfo(c *cli.Context) error {
	store, db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	meter, err := openMeter(c, store)
	if err != nil {
		return err
	}
	defer meter.Close()

	s := meter.Sensor()
	min, max := meter.WavelengthLimits()

	fmt.Printf("Sensor:      %s\n", s.Name)
	fmt.Printf("Serial:      %s\n", s.Serial)
	fmt.Printf("Calibration: %s\n", s.CalMessage)
	fmt.Printf("Type:        %s/%s\n", s.Type, s.Subtype)
	fmt.Printf("Wavelength:  %g-%g nm\n", min, max)
	fmt.Printf("Power: %v  Energy: %v  Temperature: %v\n",
		s.Flags.IsPower, s.Flags.IsEnergy, s.Flags.HasTemperatureSensor)
	fmt.Printf("Settable: wavelength=%v response=%v tau=%v\n",
		s.Flags.WavelengthSettable, s.Flags.ResponseSettable, s.Flags.TauSettable)
	return nil
}

func runRead(c *cli.Context) error {
	store, db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	meter, err := openMeter(c, store)
	if err != nil {
		return err
	}
	defer meter.Close()

	var publisher *stream.Publisher
	if c.Bool("mqtt") {
		cfg, err := store.GetMQTTConfig()
		if err != nil {
			return fmt.Errorf("failed to get MQTT config: %v", err)
		}
		publisher, err = stream.Connect(cfg, log.StandardLogger())
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	quantity, unit := "power", "W"
	measure := meter.Power
	if c.Bool("energy") {
		quantity, unit = "energy", "J"
		measure = meter.Energy
	}

	if nm := c.Float64("wavelength"); nm != 0 {
		if err := meter.SetWavelength(nm); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := c.Duration("interval")
	fmt.Printf("timestamp, %s (%s)\n", quantity, unit)

	for count := c.Int("count"); count != 0; count-- {
		start := time.Now()

		value, err := measure()
		if err != nil {
			return err
		}
		fmt.Printf("%s, %g\n", time.Now().Format(time.RFC3339Nano), value)

		if publisher != nil {
			publisher.Publish(stream.Reading{
				Time:     time.Now(),
				Quantity: quantity,
				Value:    value,
				Unit:     unit,
				Sensor:   meter.Sensor().Serial,
			})
		}

		// Shorten the sleep by the time the reading took. A slow reading
		// skips the sleep entirely.
		remaining := interval - time.Since(start)
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remaining):
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func runZero(c *cli.Context) error {
	store, db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	meter, err := openMeter(c, store)
	if err != nil {
		return err
	}
	defer meter.Close()

	log.Info("Starting zero adjustment, block the sensor input")
	if err := meter.ZeroAdjust(c.Duration("timeout")); err != nil {
		return err
	}

	mag, err := meter.ZeroMagnitude()
	if err != nil {
		return err
	}
	fmt.Printf("zero offset: %g\n", mag)
	return nil
}

func runSet(c *cli.Context) error {
	store, db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	settings, err := store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to get meter settings: %v", err)
	}

	if c.IsSet("wavelength") {
		settings.Wavelength = c.Float64("wavelength")
	}
	if c.IsSet("averaging") {
		settings.Averaging = c.Int("averaging")
	}
	if c.IsSet("beam-diameter") {
		settings.BeamDiameter = c.Float64("beam-diameter")
	}
	if c.IsSet("auto-range") {
		settings.AutoRange = c.Bool("auto-range")
	}

	log.Infof("Saving meter settings: %+v", settings)
	return store.SetSettings(settings)
}

func main() {
	app := cli.App{
		Name:  "pm100",
		Usage: "Thorlabs PM100USB power meter",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Usage:   "Serial port of the meter",
				EnvVars: []string{"PM100_PORT"},
			},
			&cli.IntFlag{
				Name:    "baud",
				Usage:   "Serial baud rate",
				Value:   115200,
				EnvVars: []string{"PM100_BAUD"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "TCP address (host:port) of a bridged meter",
				EnvVars: []string{"PM100_ADDR"},
			},
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "Use a simulated meter",
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Settings database path",
				Value:   "pm100.db",
				EnvVars: []string{"PM100_DB"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Print sensor information",
				Action: runInfo,
			},
			{
				Name:  "read",
				Usage: "Read measurements in a loop",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "interval",
						Aliases: []string{"i"},
						Usage:   "Time between readings",
						Value:   time.Second,
					},
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of readings, -1 for no limit",
						Value:   -1,
					},
					&cli.BoolFlag{
						Name:  "energy",
						Usage: "Read energy instead of power",
					},
					&cli.Float64Flag{
						Name:    "wavelength",
						Aliases: []string{"w"},
						Usage:   "Correction wavelength in nm",
					},
					&cli.BoolFlag{
						Name:  "mqtt",
						Usage: "Publish readings over MQTT",
					},
				},
				Action: runRead,
			},
			{
				Name:  "zero",
				Usage: "Run a zero adjustment",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Abort if the adjustment takes longer",
						Value: 30 * time.Second,
					},
				},
				Action: runZero,
			},
			{
				Name:  "set",
				Usage: "Persist meter settings applied at connect",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "wavelength", Usage: "Correction wavelength in nm"},
					&cli.IntFlag{Name: "averaging", Usage: "Measurements per reading"},
					&cli.Float64Flag{Name: "beam-diameter", Usage: "Beam diameter in mm"},
					&cli.BoolFlag{Name: "auto-range", Usage: "Enable automatic power ranging"},
				},
				Action: runSet,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
