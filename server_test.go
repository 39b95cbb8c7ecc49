package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
	"pinctl/internal/gpiosim"
	"pinctl/internal/pinmap"
)

type testRig struct {
	s    *Server
	h    http.Handler
	chip *gpiosim.Chip
	cm   *ConfigManager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()
	cm := &ConfigManager{Path: filepath.Join(dir, "config.json")}
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}
	if err := cm.Update(func(c *Config) error {
		c.LogFile = filepath.Join(dir, "events.log")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	chip, err := gpiosim.New(pinmap.BCM2837)
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := gpio.Open(chip, pinmap.BCM2837)
	if err != nil {
		t.Fatal(err)
	}
	s, err := newServer(cm, &hardware{ctl: ctl, sim: chip, onInterrupt: chip.OnInterrupt})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &testRig{s: s, h: s.routes(), chip: chip, cm: cm}
}

func (r *testRig) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	r.h.ServeHTTP(rec, req)
	return rec
}

func (r *testRig) login(t *testing.T, user, pass string) *http.Cookie {
	t.Helper()
	rec := r.do(t, http.MethodPost, "/api/login", `{"username":"`+user+`","password":"`+pass+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", user, rec.Code, rec.Body)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDefaultPinTableApplied(t *testing.T) {
	r := newTestRig(t)
	if d, _ := r.s.ctl.Direction(22); d != gpio.Output {
		t.Fatalf("gpio22 direction %s", d)
	}
	if tr, _ := r.s.ctl.Trigger(26); tr != gpio.TriggerFalling {
		t.Fatalf("gpio26 trigger %s", tr)
	}
	if !r.s.disp.Registered(26) {
		t.Fatal("gpio26 has no handler")
	}
}

// Pressing the button on gpio26 lights the LED on gpio22.
func TestButtonPressDrivesLED(t *testing.T) {
	r := newTestRig(t)
	_ = r.chip.Drive(26, gpio.High) // released, pulled up
	_ = r.chip.Drive(26, gpio.Low)  // pressed

	if n := r.s.disp.Service(); n != 1 {
		t.Fatalf("Service dispatched %d", n)
	}
	if l, _ := r.s.ctl.Read(22); l != gpio.High {
		t.Fatal("LED not lit")
	}

	c := r.login(t, "admin", "admin")
	v := decode[PinView](t, r.do(t, http.MethodGet, "/api/pins/26", "", c))
	if v.Events != 1 || v.LastEvent == nil || !v.Active || v.Pending {
		t.Fatalf("pin view %+v", v)
	}

	lines := decode[[]string](t, r.do(t, http.MethodGet, "/api/logs", "", c))
	found := false
	for _, l := range lines {
		if strings.Contains(l, "event: gpio26 (button) falling") {
			found = true
		}
	}
	if !found {
		t.Fatalf("event not logged: %q", lines)
	}
}

func TestAuthRequired(t *testing.T) {
	r := newTestRig(t)
	if rec := r.do(t, http.MethodGet, "/api/status", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without session: %d", rec.Code)
	}
	rec := r.do(t, http.MethodPost, "/api/login", `{"username":"admin","password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", rec.Code)
	}

	c := r.login(t, "admin", "admin")
	if rec := r.do(t, http.MethodPost, "/api/logout", "", c); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/status", "", c); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout: %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	r := newTestRig(t)
	c := r.login(t, "admin", "admin")

	type status struct {
		Layout    string    `json:"layout"`
		Simulated bool      `json:"simulated"`
		Pins      []PinView `json:"pins"`
	}
	st := decode[status](t, r.do(t, http.MethodGet, "/api/status", "", c))
	if st.Layout != "bcm2837" || !st.Simulated || len(st.Pins) != 3 {
		t.Fatalf("status %+v", st)
	}
	all := decode[status](t, r.do(t, http.MethodGet, "/api/status?all=1", "", c))
	if len(all.Pins) != 54 {
		t.Fatalf("all pins: %d", len(all.Pins))
	}
}

func TestWriteAndToggleOutput(t *testing.T) {
	r := newTestRig(t)
	c := r.login(t, "admin", "admin")

	rec := r.do(t, http.MethodPost, "/api/pins/27", `{"level":"high"}`, c)
	if rec.Code != http.StatusOK {
		t.Fatalf("write: %d %s", rec.Code, rec.Body)
	}
	if v := decode[PinView](t, rec); v.Level != "high" {
		t.Fatalf("level %s", v.Level)
	}
	got := decode[map[string]string](t, r.do(t, http.MethodPost, "/api/pins/27/toggle", "", c))
	if got["level"] != "low" {
		t.Fatalf("toggle -> %v", got)
	}
	if l, _ := r.chip.Level(27); l != gpio.Low {
		t.Fatal("chip level not low after toggle")
	}
}

func TestWriteRejectsInputAndBadPins(t *testing.T) {
	r := newTestRig(t)
	c := r.login(t, "admin", "admin")
	if rec := r.do(t, http.MethodPost, "/api/pins/26", `{"level":"high"}`, c); rec.Code != http.StatusConflict {
		t.Fatalf("write to input: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodPost, "/api/pins/26/toggle", "", c); rec.Code != http.StatusConflict {
		t.Fatalf("toggle input: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/pins/54", "", c); rec.Code != http.StatusNotFound {
		t.Fatalf("pin 54: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/pins/x", "", c); rec.Code != http.StatusBadRequest {
		t.Fatalf("pin x: %d", rec.Code)
	}
}

func TestReconfigurePinPersists(t *testing.T) {
	r := newTestRig(t)
	c := r.login(t, "admin", "admin")

	rec := r.do(t, http.MethodPost, "/api/pins/17",
		`{"direction":"in","trigger":"rising","name":"door","actions":[{"type":"toggle","target":27}]}`, c)
	if rec.Code != http.StatusOK {
		t.Fatalf("configure: %d %s", rec.Code, rec.Body)
	}
	if tr, _ := r.s.ctl.Trigger(17); tr != gpio.TriggerRising {
		t.Fatalf("trigger %s", tr)
	}
	pc, ok := r.cm.FindPin(17)
	if !ok || pc.Name != "door" {
		t.Fatalf("not persisted: %+v", pc)
	}
	reloaded := &ConfigManager{Path: r.cm.Path}
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.FindPin(17); !ok {
		t.Fatal("pin 17 missing from config file")
	}

	_ = r.chip.Drive(17, gpio.High)
	r.s.disp.Service()
	if l, _ := r.s.ctl.Read(27); l != gpio.High {
		t.Fatal("toggle action did not run")
	}

	// Disarming drops the handler too.
	if rec := r.do(t, http.MethodPost, "/api/pins/17", `{"trigger":"none"}`, c); rec.Code != http.StatusOK {
		t.Fatalf("disarm: %d", rec.Code)
	}
	if r.s.disp.Registered(17) {
		t.Fatal("handler left after trigger none")
	}

	if rec := r.do(t, http.MethodPost, "/api/pins/17", `{"trigger":"sometimes"}`, c); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad trigger: %d", rec.Code)
	}
}

func TestManualAckPin(t *testing.T) {
	r := newTestRig(t)
	c := r.login(t, "admin", "admin")
	rec := r.do(t, http.MethodPost, "/api/pins/5", `{"direction":"in","trigger":"rising","manual_ack":true}`, c)
	if rec.Code != http.StatusOK {
		t.Fatalf("configure: %d %s", rec.Code, rec.Body)
	}
	_ = r.chip.Drive(5, gpio.High)
	r.s.disp.Service()

	if v := decode[PinView](t, r.do(t, http.MethodGet, "/api/pins/5", "", c)); !v.Pending || v.Events != 1 {
		t.Fatalf("before ack: %+v", v)
	}
	got := decode[map[string]bool](t, r.do(t, http.MethodPost, "/api/pins/5/ack", "", c))
	if !got["was_pending"] {
		t.Fatal("ack reported nothing pending")
	}
	got = decode[map[string]bool](t, r.do(t, http.MethodPost, "/api/pins/5/ack", "", c))
	if got["was_pending"] {
		t.Fatal("second ack reported a pending event")
	}
}

func (r *testRig) events(pin int) uint64 {
	r.s.evMu.Lock()
	defer r.s.evMu.Unlock()
	if ev := r.s.events[pin]; ev != nil {
		return ev.Count
	}
	return 0
}

// With an interrupt line only the worker feeds the dispatcher, so one
// press is delivered once.
func TestInterruptLineReplacesPoller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRig(t)
	if p := r.s.startNotifiers(ctx); p != nil {
		t.Fatal("poller started alongside the interrupt line")
	}

	_ = r.chip.Drive(26, gpio.High)
	_ = r.chip.Drive(26, gpio.Low)
	deadline := time.Now().Add(time.Second)
	for r.events(26) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := r.events(26); n != 1 {
		t.Fatalf("one press delivered %d times", n)
	}
	if l, _ := r.s.ctl.Read(22); l != gpio.High {
		t.Fatal("LED not lit")
	}

	polled := newTestRig(t)
	polled.s.hw.onInterrupt = nil
	if p := polled.s.startNotifiers(ctx); p == nil {
		t.Fatal("no poller without an interrupt line")
	}
}

func TestPeriphPinCannotTakeConfiguredPin(t *testing.T) {
	r := newTestRig(t)
	if len(r.s.periph) != r.s.ctl.Pins() {
		t.Fatalf("registered %d periph pins", len(r.s.periph))
	}
	p := r.s.periph[26]
	if err := p.In(pgpio.Float, pgpio.RisingEdge); !errors.Is(err, gpioerr.ErrPinClaimed) {
		t.Fatalf("In on the button pin: %v", err)
	}
	if err := p.Halt(); err != nil {
		t.Fatal(err)
	}
	if tr, _ := r.s.ctl.Trigger(26); tr != gpio.TriggerFalling {
		t.Fatalf("button trigger now %s", tr)
	}

	_ = r.chip.Drive(26, gpio.High)
	_ = r.chip.Drive(26, gpio.Low)
	r.s.disp.Service()
	if n := r.events(26); n != 1 {
		t.Fatalf("daemon handler ran %d times", n)
	}
}

func TestCloseUnregistersPeriphPins(t *testing.T) {
	r := newTestRig(t)
	if gpioreg.ByName("PINCTL22") == nil {
		t.Fatal("PINCTL22 not registered")
	}
	if err := r.s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := gpioreg.ByName("PINCTL22"); got != nil {
		t.Fatalf("PINCTL22 still registered after Close: %v", got)
	}

	again := newTestRig(t)
	if len(again.s.periph) != again.s.ctl.Pins() {
		t.Fatalf("second server registered %d periph pins", len(again.s.periph))
	}
}

func TestUserManagement(t *testing.T) {
	r := newTestRig(t)
	admin := r.login(t, "admin", "admin")

	if rec := r.do(t, http.MethodPost, "/api/users", `{"username":"op","password":"pw"}`, admin); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if rec := r.do(t, http.MethodPost, "/api/users", `{"username":"op","password":"pw"}`, admin); rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate: %d", rec.Code)
	}
	users := decode[[]map[string]any](t, r.do(t, http.MethodGet, "/api/users", "", admin))
	if len(users) != 2 {
		t.Fatalf("users %v", users)
	}
	for _, u := range users {
		if _, leaked := u["password_hash"]; leaked {
			t.Fatal("password hash exposed")
		}
	}

	op := r.login(t, "op", "pw")
	// Operators drive outputs but cannot reconfigure pins or see users.
	if rec := r.do(t, http.MethodPost, "/api/pins/22", `{"level":"high"}`, op); rec.Code != http.StatusOK {
		t.Fatalf("operator write: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodPost, "/api/pins/22", `{"trigger":"rising"}`, op); rec.Code != http.StatusForbidden {
		t.Fatalf("operator configure: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/users", "", op); rec.Code != http.StatusForbidden {
		t.Fatalf("operator list users: %d", rec.Code)
	}

	if rec := r.do(t, http.MethodPut, "/api/users/op", `{"password":"new"}`, admin); rec.Code != http.StatusNoContent {
		t.Fatalf("update: %d", rec.Code)
	}
	r.login(t, "op", "new")

	if rec := r.do(t, http.MethodDelete, "/api/users/op", "", admin); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodGet, "/api/status", "", op); rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user's session still valid: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodDelete, "/api/users/admin", "", admin); rec.Code != http.StatusBadRequest {
		t.Fatalf("self delete: %d", rec.Code)
	}
	if rec := r.do(t, http.MethodDelete, "/api/users/ghost", "", admin); rec.Code != http.StatusNotFound {
		t.Fatalf("delete unknown: %d", rec.Code)
	}
}
