package main

// PinConfig is one row of the pin table in config.json. Pins not listed are
// left exactly as the firmware or another process configured them.
type PinConfig struct {
	Pin       int    `json:"pin"`                  // BCM number
	Name      string `json:"name,omitempty"`       // human-readable label (e.g. "button")
	Direction string `json:"direction"`            // "in" or "out"
	Initial   string `json:"initial,omitempty"`    // outputs only: "high" or "low"
	Trigger   string `json:"trigger,omitempty"`    // none, rising, falling, both, high, low
	ActiveLow bool   `json:"active_low,omitempty"` // low level means "active" in status reports
	// ManualAck leaves the event latched until an explicit acknowledge
	// (POST /api/pins/{n}/ack).
	ManualAck bool `json:"manual_ack,omitempty"`
	// Sysfs takes edges from the kernel's /sys/class/gpio interface instead
	// of the register window's detect logic. Edge triggers only.
	Sysfs   bool           `json:"sysfs,omitempty"`
	Actions []ActionConfig `json:"actions,omitempty"`
}

// ActionConfig describes what happens when the pin's trigger fires.
//
//	log    - write an event line (the default when no actions are listed)
//	drive  - set Target to Level
//	toggle - invert Target
//	email  - send a message through an SMTP server
type ActionConfig struct {
	Type   string `json:"type"`
	Target int    `json:"target,omitempty"`
	Level  string `json:"level,omitempty"`

	SMTPServer string `json:"smtp_server,omitempty"`
	SMTPPort   int    `json:"smtp_port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// User is an account of the control API. Admins may reconfigure pins and
// manage users; others may read status and drive outputs.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Admin        bool   `json:"admin"`
}

// Config is the top-level structure serialized to config.json.
type Config struct {
	HTTPPort int    `json:"http_port"` // port to listen on (default 8443)
	CertFile string `json:"cert_file"` // path to PEM encoded certificate
	KeyFile  string `json:"key_file"`  // path to PEM encoded key
	LogFile  string `json:"log_file"`

	// Layout selects the register geometry: "bcm2837" (default) or "bcm2835".
	Layout string `json:"layout,omitempty"`
	// Device is the file mapped for register access (default /dev/gpiomem).
	// PhysBase, when non-zero, maps that physical address through /dev/mem
	// instead.
	Device   string `json:"device,omitempty"`
	PhysBase uint64 `json:"phys_base,omitempty"`
	// PollInterval is the status-register scan period in milliseconds.
	PollInterval int `json:"poll_interval_ms,omitempty"`

	Pins  []PinConfig `json:"pins"`
	Users []User      `json:"users"`
}
