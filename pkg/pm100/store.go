package pm100

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket      = "pm100"
	settingsKey = "meter_settings"
	mqttKey     = "mqtt_config"
)

// Settings are the meter settings applied after connecting.
type Settings struct {
	Wavelength   float64 `json:"wavelength"`    // nm, 0 leaves the instrument value
	Averaging    int     `json:"averaging"`     // measurements per reading
	BeamDiameter float64 `json:"beam_diameter"` // mm, 0 leaves the instrument value
	AutoRange    bool    `json:"auto_range"`
}

var defaultSettings = Settings{
	Averaging: 100,
	AutoRange: true,
}

// MQTTConfig is the readings publisher configuration.
type MQTTConfig struct {
	Broker    string
	Username  string
	Password  string
	TopicRoot string
}

var defaultMQTTConfig = MQTTConfig{
	Broker:    "tcp://localhost:1883",
	TopicRoot: "pm100",
}

// Store persists meter and publisher settings in a bbolt database.
type Store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are
// not already set.
func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetSettings(); err != nil {
		log.Infof("Setting default meter settings")
		if err := s.SetSettings(defaultSettings); err != nil {
			return err
		}
	}
	if _, err := s.GetMQTTConfig(); err != nil {
		log.Infof("Setting default MQTT config")
		if err := s.SetMQTTConfig(defaultMQTTConfig); err != nil {
			return err
		}
	}
	return nil
}

// SetSettings saves the meter settings as a json string in the database.
func (s *Store) SetSettings(cfg Settings) error {
	if cfg.Averaging < 1 {
		return fmt.Errorf("invalid averaging count: %d", cfg.Averaging)
	}
	return s.put(settingsKey, cfg)
}

// GetSettings retrieves the meter settings from the database.
func (s *Store) GetSettings() (Settings, error) {
	var cfg Settings
	err := s.get(settingsKey, &cfg)
	return cfg, err
}

// SetMQTTConfig saves the MQTT configuration as a json string in the
// database.
func (s *Store) SetMQTTConfig(cfg MQTTConfig) error {
	if cfg.Broker == "" {
		return fmt.Errorf("broker cannot be empty")
	}
	return s.put(mqttKey, cfg)
}

// GetMQTTConfig retrieves the MQTT configuration from the database.
func (s *Store) GetMQTTConfig() (MQTTConfig, error) {
	var cfg MQTTConfig
	err := s.get(mqttKey, &cfg)
	return cfg, err
}

func (s *Store) put(key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(v)
		return b.Put([]byte(key), value)
	})
}

func (s *Store) get(key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(key))
		if value == nil {
			return fmt.Errorf("key %s not found", key)
		}

		return json.Unmarshal(value, v)
	})
}

// Apply writes the stored settings to the instrument. Settings the attached
// sensor does not support are skipped with a log entry rather than failing
// the session.
func (m *Meter) Apply(cfg Settings) error {
	if err := m.SetAveraging(cfg.Averaging); err != nil {
		return err
	}

	if cfg.Wavelength != 0 {
		if !m.sensor.Flags.WavelengthSettable {
			m.logger.Infof("Skipping wavelength: not settable for %s", m.sensor.Name)
		} else if err := m.SetWavelength(cfg.Wavelength); err != nil {
			return err
		}
	}

	if cfg.BeamDiameter != 0 {
		if err := m.SetBeamDiameter(cfg.BeamDiameter); err != nil {
			return err
		}
	}

	if m.sensor.Flags.IsPower {
		if err := m.SetAutoRange(cfg.AutoRange); err != nil {
			return err
		}
	}

	return nil
}
