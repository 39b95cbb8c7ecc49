package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"pinctl/internal/gpio"
	"pinctl/internal/pinmap"
)

// configPath is the default filename for persisted configuration.
const configPath = "config.json"

// ConfigManager wraps the loaded configuration and a mutex for concurrent access.
// Changes made through Update are persisted immediately.
type ConfigManager struct {
	// Path overrides configPath when set.
	Path string

	mu     sync.RWMutex
	cfg    Config
	loaded bool
}

func (cm *ConfigManager) path() string {
	if cm.Path != "" {
		return cm.Path
	}
	return configPath
}

// defaultConfig wires the demo board: a button on gpio26 (falling edge,
// external pull-up) lights the LED on gpio22. The admin password is "admin"
// and should be changed immediately.
func defaultConfig() Config {
	return Config{
		HTTPPort:     8443,
		CertFile:     "server.crt",
		KeyFile:      "server.key",
		LogFile:      "events.log",
		Layout:       pinmap.BCM2837.Name,
		PollInterval: 10,
		Pins: []PinConfig{
			{Pin: 22, Name: "green led", Direction: "out", Initial: "low"},
			{Pin: 27, Name: "red led", Direction: "out", Initial: "low"},
			{
				Pin: 26, Name: "button", Direction: "in", Trigger: "falling", ActiveLow: true,
				Actions: []ActionConfig{{Type: "log"}, {Type: "drive", Target: 22, Level: "high"}},
			},
		},
		Users: []User{
			{Username: "admin", PasswordHash: hashPassword("admin"), Admin: true},
		},
	}
}

// Load reads configuration from disk. If the file does not exist the default
// configuration is written out and used.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(cm.path())
	if err != nil {
		if os.IsNotExist(err) {
			cm.cfg = defaultConfig()
			cm.loaded = true
			// Save takes the read lock.
			cm.mu.Unlock()
			return cm.Save()
		}
		cm.mu.Unlock()
		return fmt.Errorf("unable to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", cm.path(), err)
	}
	if err := validateConfig(cfg); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", cm.path(), err)
	}
	cm.cfg = cfg
	cm.loaded = true
	cm.mu.Unlock()
	return nil
}

// Save writes the configuration to disk through a temp file and rename.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	bytes, err := json.MarshalIndent(cm.cfg, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := cm.path() + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path())
}

// Get returns a copy of the current configuration. Slices are shared, so
// callers must treat the result as immutable.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg
}

// Update applies fn under the write lock, validates the result and persists
// it. A failed fn or validation leaves the configuration untouched.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	next := cm.cfg
	next.Pins = append([]PinConfig(nil), cm.cfg.Pins...)
	next.Users = append([]User(nil), cm.cfg.Users...)
	if err := fn(&next); err != nil {
		cm.mu.Unlock()
		return err
	}
	if err := validateConfig(next); err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.cfg = next
	cm.mu.Unlock()
	return cm.Save()
}

// FindUser returns a user and its index by username. If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, u := range cm.cfg.Users {
		if u.Username == username {
			return u, i
		}
	}
	return User{}, -1
}

// FindPin returns the pin table entry for pin n.
func (cm *ConfigManager) FindPin(n int) (PinConfig, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, pc := range cm.cfg.Pins {
		if pc.Pin == n {
			return pc, true
		}
	}
	return PinConfig{}, false
}

// Authenticate checks whether the provided username and password are valid.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
	user, _ := cm.FindUser(username)
	if user.Username == "" {
		return User{}, errors.New("invalid credentials")
	}
	if err := checkPasswordHash(password, user.PasswordHash); err != nil {
		return User{}, errors.New("invalid credentials")
	}
	return user, nil
}

// layoutByName maps the config "layout" value to a register layout.
func layoutByName(name string) (pinmap.Layout, error) {
	switch strings.ToLower(name) {
	case "", pinmap.BCM2837.Name:
		return pinmap.BCM2837, nil
	case pinmap.BCM2835.Name:
		return pinmap.BCM2835, nil
	}
	return pinmap.Layout{}, fmt.Errorf("unknown layout %q", name)
}

// validateConfig checks the pin table against the selected layout. Pins are
// rejected before anything touches the hardware.
func validateConfig(cfg Config) error {
	l, err := layoutByName(cfg.Layout)
	if err != nil {
		return err
	}
	seen := map[int]bool{}
	for _, pc := range cfg.Pins {
		if pc.Pin < 0 || pc.Pin >= l.Pins {
			return fmt.Errorf("pin %d: %w", pc.Pin, &pinmap.OutOfRangeError{Pin: pinmap.Pin(pc.Pin), Pins: l.Pins})
		}
		if seen[pc.Pin] {
			return fmt.Errorf("pin %d listed twice", pc.Pin)
		}
		seen[pc.Pin] = true
		dir, err := gpio.ParseDirection(pc.Direction)
		if err != nil {
			return fmt.Errorf("pin %d: %w", pc.Pin, err)
		}
		if pc.Initial != "" {
			if dir != gpio.Output {
				return fmt.Errorf("pin %d: initial level on an input", pc.Pin)
			}
			if _, err := parseLevel(pc.Initial); err != nil {
				return fmt.Errorf("pin %d: %w", pc.Pin, err)
			}
		}
		trig, err := gpio.ParseTrigger(pc.Trigger)
		if err != nil {
			return fmt.Errorf("pin %d: %w", pc.Pin, err)
		}
		if pc.Sysfs && (dir != gpio.Input || trig == gpio.TriggerNone || trig.IsLevel()) {
			return fmt.Errorf("pin %d: sysfs needs an input with an edge trigger", pc.Pin)
		}
		for _, ac := range pc.Actions {
			if err := validateAction(ac, l.Pins); err != nil {
				return fmt.Errorf("pin %d: action %s: %w", pc.Pin, ac.Type, err)
			}
		}
	}
	return nil
}

// parseLevel accepts "high"/"low" and "1"/"0".
func parseLevel(s string) (gpio.Level, error) {
	switch strings.ToLower(s) {
	case "high", "1":
		return gpio.High, nil
	case "low", "0":
		return gpio.Low, nil
	}
	return gpio.Low, fmt.Errorf("invalid level %q", s)
}
