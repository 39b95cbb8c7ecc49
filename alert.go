package main

// This file defines the actions a pin event can fire.

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"pinctl/internal/dispatch"
	"pinctl/internal/gpio"
)

// Action is run by the dispatcher for every event of the pin it belongs to.
// Run executes on the dispatch goroutine and must not block for long; slow
// work (mail) is moved to its own goroutine. Errors are logged by the caller.
type Action interface {
	Name() string
	Run(ev dispatch.Event, pc PinConfig, logger *EventLogger) error
}

// LogAction writes one event line. It is the default when a pin lists no
// actions.
type LogAction struct{}

func (LogAction) Name() string { return "log" }

func (LogAction) Run(ev dispatch.Event, pc PinConfig, logger *EventLogger) error {
	logger.Log("event: gpio%d (%s) %s level=%s active=%t",
		ev.Pin, pc.Name, ev.Trigger, ev.Level, pinActive(pc, ev.Level))
	return nil
}

// DriveAction sets another pin to a fixed level. The target must already be
// an output.
type DriveAction struct {
	ctl    *gpio.Controller
	Target gpio.Pin
	Level  gpio.Level
}

func (DriveAction) Name() string { return "drive" }

func (a DriveAction) Run(ev dispatch.Event, pc PinConfig, logger *EventLogger) error {
	return a.ctl.Write(a.Target, a.Level)
}

// ToggleAction inverts another pin.
type ToggleAction struct {
	ctl    *gpio.Controller
	Target gpio.Pin
}

func (ToggleAction) Name() string { return "toggle" }

func (a ToggleAction) Run(ev dispatch.Event, pc PinConfig, logger *EventLogger) error {
	_, err := a.ctl.Toggle(a.Target)
	return err
}

// EmailAction sends a message through an SMTP server. The subject defaults
// to "pinctl event" if empty.
type EmailAction struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string

	// send is smtp.SendMail outside tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (EmailAction) Name() string { return "email" }

// Run queues the mail and returns at once; delivery errors go to the event
// log.
func (e EmailAction) Run(ev dispatch.Event, pc PinConfig, logger *EventLogger) error {
	subject := e.Subject
	if subject == "" {
		subject = "pinctl event"
	}
	body := fmt.Sprintf("gpio%d (%s) fired: %s, level %s at %s",
		ev.Pin, pc.Name, ev.Trigger, ev.Level, ev.TS.Format("2006-01-02 15:04:05"))
	// RFC 5322 requires CRLF line endings.
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body)
	addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
	auth := smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
	send := e.send
	if send == nil {
		send = smtp.SendMail
	}
	go func() {
		if err := send(addr, auth, e.From, []string{e.To}, []byte(msg)); err != nil {
			logger.Log("email for gpio%d: %v", ev.Pin, err)
		}
	}()
	return nil
}

func validateAction(ac ActionConfig, pins int) error {
	switch strings.ToLower(ac.Type) {
	case "log":
		return nil
	case "drive", "toggle":
		if ac.Target < 0 || ac.Target >= pins {
			return fmt.Errorf("target gpio %d out of range", ac.Target)
		}
		if strings.EqualFold(ac.Type, "drive") {
			_, err := parseLevel(ac.Level)
			return err
		}
		return nil
	case "email":
		if ac.SMTPServer == "" || ac.To == "" {
			return errors.New("smtp_server and to are required")
		}
		return nil
	}
	return fmt.Errorf("unknown action type %q", ac.Type)
}

// buildActions turns a pin's action list into handlers. An empty list
// yields a single LogAction so every event is recorded.
func buildActions(pc PinConfig, ctl *gpio.Controller) ([]Action, error) {
	if len(pc.Actions) == 0 {
		return []Action{LogAction{}}, nil
	}
	var out []Action
	for _, ac := range pc.Actions {
		if err := validateAction(ac, ctl.Pins()); err != nil {
			return nil, err
		}
		switch strings.ToLower(ac.Type) {
		case "log":
			out = append(out, LogAction{})
		case "drive":
			lvl, _ := parseLevel(ac.Level)
			out = append(out, DriveAction{ctl: ctl, Target: gpio.Pin(ac.Target), Level: lvl})
		case "toggle":
			out = append(out, ToggleAction{ctl: ctl, Target: gpio.Pin(ac.Target)})
		case "email":
			port := ac.SMTPPort
			if port == 0 {
				port = 587
			}
			out = append(out, EmailAction{
				SMTPServer: ac.SMTPServer,
				SMTPPort:   port,
				Username:   ac.Username,
				Password:   ac.Password,
				From:       ac.From,
				To:         ac.To,
				Subject:    ac.Subject,
			})
		}
	}
	return out, nil
}
