package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pinctl/internal/dispatch"
	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
	"pinctl/internal/gpiosim"
	"pinctl/internal/notify"
	"pinctl/internal/periphpin"
)

// hardware is what openHardware hands back: the controller plus whatever
// backs it.
type hardware struct {
	ctl *gpio.Controller
	// sim is set when the controller runs on the simulator.
	sim *gpiosim.Chip
	// onInterrupt attaches a callback to the controller's interrupt line,
	// when it has one reachable from user space.
	onInterrupt func(func())
	close       func() error
}

var (
	errNotFound   = errors.New("not found")
	errUserExists = errors.New("user exists")
)

// pinEvents counts what the dispatcher delivered for one pin.
type pinEvents struct {
	Count uint64
	Last  time.Time
	Level gpio.Level
}

// Server holds the controller, the dispatcher and the HTTP API state.
type Server struct {
	cfgMgr   *ConfigManager
	sessions *SessionManager
	logger   *EventLogger
	hw       *hardware
	ctl      *gpio.Controller
	disp     *dispatch.Dispatcher
	worker   *dispatch.Worker
	periph   []*periphpin.Pin

	mu       sync.Mutex // guards cancels and watchers
	cancels  map[int]func()
	watchers map[int]*notify.SysfsWatcher

	evMu   sync.Mutex
	events map[int]*pinEvents
}

// NewServer opens the GPIO hardware and applies the pin table.
func NewServer(cfgMgr *ConfigManager) (*Server, error) {
	hw, err := openHardware(cfgMgr.Get())
	if err != nil {
		return nil, fmt.Errorf("gpio: %w", err)
	}
	s, err := newServer(cfgMgr, hw)
	if err != nil {
		if hw.close != nil {
			_ = hw.close()
		}
		return nil, err
	}
	return s, nil
}

func newServer(cfgMgr *ConfigManager, hw *hardware) (*Server, error) {
	cfg := cfgMgr.Get()
	disp := dispatch.New(hw.ctl)
	s := &Server{
		cfgMgr:   cfgMgr,
		sessions: NewSessionManager(),
		logger:   NewEventLogger(cfg.LogFile),
		hw:       hw,
		ctl:      hw.ctl,
		disp:     disp,
		worker:   dispatch.NewWorker(disp, 64),
		cancels:  map[int]func(){},
		watchers: map[int]*notify.SysfsWatcher{},
		events:   map[int]*pinEvents{},
	}
	for _, pc := range cfg.Pins {
		if err := s.configurePin(pc); err != nil {
			return nil, fmt.Errorf("gpio%d: %w", pc.Pin, err)
		}
	}
	pins, err := periphpin.RegisterAll(s.ctl, s.disp, periphpin.DefaultPrefix)
	if err != nil {
		// Only fails on a name clash, which leaves the daemon itself usable.
		log.Printf("periph registration: %v", err)
	}
	s.periph = pins
	return s, nil
}

// configurePin applies one pin table entry: direction, initial level,
// handler and trigger. It replaces whatever the pin had before.
func (s *Server) configurePin(pc PinConfig) error {
	pin := gpio.Pin(pc.Pin)
	dir, err := gpio.ParseDirection(pc.Direction)
	if err != nil {
		return err
	}
	trig, err := gpio.ParseTrigger(pc.Trigger)
	if err != nil {
		return err
	}
	actions, err := buildActions(pc, s.ctl)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel := s.cancels[pc.Pin]; cancel != nil {
		cancel()
		delete(s.cancels, pc.Pin)
	}
	if err := s.ctl.Disarm(pin); err != nil {
		return err
	}
	if dir == gpio.Output && pc.Initial != "" {
		lvl, err := parseLevel(pc.Initial)
		if err != nil {
			return err
		}
		// Latch first so the pin comes up at the right level.
		if err := s.ctl.Write(pin, lvl); err != nil {
			return err
		}
	}
	if err := s.ctl.SetDirection(pin, dir); err != nil {
		return err
	}
	if trig == gpio.TriggerNone {
		return nil
	}

	var opts []dispatch.Option
	if pc.ManualAck {
		opts = append(opts, dispatch.WithManualAck())
	}
	cancel, err := s.disp.Register(pin, s.pinHandler(pc, actions), opts...)
	if err != nil {
		return err
	}
	s.cancels[pc.Pin] = cancel
	if pc.Sysfs {
		// The kernel does the detecting; the watcher is started by Run.
		return nil
	}
	// Anything latched under the previous configuration is stale.
	if err := s.ctl.Acknowledge(pin); err != nil && !errors.Is(err, gpioerr.ErrStaleAcknowledge) {
		return err
	}
	return s.ctl.Arm(pin, trig)
}

func (s *Server) pinHandler(pc PinConfig, actions []Action) dispatch.Handler {
	return func(ev dispatch.Event) {
		s.recordEvent(ev)
		for _, a := range actions {
			if err := a.Run(ev, pc, s.logger); err != nil {
				s.logger.Log("action %s on gpio%d: %v", a.Name(), ev.Pin, err)
			}
		}
	}
}

func (s *Server) recordEvent(ev dispatch.Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	pe := s.events[int(ev.Pin)]
	if pe == nil {
		pe = &pinEvents{}
		s.events[int(ev.Pin)] = pe
	}
	pe.Count++
	pe.Last = ev.TS
	pe.Level = ev.Level
}

func (s *Server) eventsFor(pin int) pinEvents {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if pe := s.events[pin]; pe != nil {
		return *pe
	}
	return pinEvents{}
}

// startWatchers opens a sysfs watcher for every pin configured for it.
func (s *Server) startWatchers(ctx context.Context) {
	for _, pc := range s.cfgMgr.Get().Pins {
		if !pc.Sysfs {
			continue
		}
		trig, _ := gpio.ParseTrigger(pc.Trigger)
		w, err := notify.WatchSysfs(gpio.Pin(pc.Pin), trig, s.disp, log.Default())
		if err != nil {
			s.logger.Log("sysfs watch gpio%d: %v", pc.Pin, err)
			continue
		}
		s.mu.Lock()
		s.watchers[pc.Pin] = w
		s.mu.Unlock()
		go func(pin int) {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Log("sysfs watch gpio%d stopped: %v", pin, err)
			}
		}(pc.Pin)
	}
}

// Run starts event delivery and serves the HTTPS API until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfgMgr.Get()

	s.startNotifiers(ctx)
	s.startWatchers(ctx)
	go s.sessions.purgeLoop(ctx, time.Hour)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:      addr,
		Handler:   s.routes(),
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Printf("Listening on https://0.0.0.0%s\n", addr)
	s.logger.Log("started")
	err := srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startNotifiers feeds the dispatcher from the interrupt line when the
// hardware has one, and from a Poller otherwise. The poller is returned so
// callers can tell which source runs.
func (s *Server) startNotifiers(ctx context.Context) *notify.Poller {
	s.worker.Start(ctx)
	if s.hw.onInterrupt != nil {
		s.hw.onInterrupt(s.worker.Raise)
		return nil
	}
	poller := &notify.Poller{
		Dispatcher: s.disp,
		Interval:   time.Duration(s.cfgMgr.Get().PollInterval) * time.Millisecond,
		Logger:     log.Default(),
	}
	go poller.Run(ctx)
	return poller
}

// Close disarms every configured pin, stops sysfs watchers, removes the
// periph registrations and releases the register mapping. Output levels are
// left as they are.
func (s *Server) Close() error {
	s.mu.Lock()
	if err := periphpin.UnregisterAll(s.periph); err != nil {
		log.Printf("periph unregistration: %v", err)
	}
	s.periph = nil
	for pin, cancel := range s.cancels {
		cancel()
		_ = s.ctl.Disarm(gpio.Pin(pin))
	}
	s.cancels = map[int]func(){}
	for pin, w := range s.watchers {
		if err := w.Close(); err != nil {
			log.Printf("sysfs gpio%d: %v", pin, err)
		}
	}
	s.watchers = map[int]*notify.SysfsWatcher{}
	s.mu.Unlock()
	s.logger.Log("stopped")
	if s.hw.close != nil {
		return s.hw.close()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/status", s.withAuth(s.handleStatus))
	mux.HandleFunc("GET /api/pins/{n}", s.withAuth(s.handleGetPin))
	mux.HandleFunc("POST /api/pins/{n}", s.withAuth(s.handleSetPin))
	mux.HandleFunc("POST /api/pins/{n}/toggle", s.withAuth(s.handleToggle))
	mux.HandleFunc("POST /api/pins/{n}/ack", s.withAuth(s.handleAck))
	mux.HandleFunc("GET /api/logs", s.withAuth(s.handleLogs))
	mux.HandleFunc("GET /api/users", s.withAuth(s.handleListUsers))
	mux.HandleFunc("POST /api/users", s.withAuth(s.handleCreateUser))
	mux.HandleFunc("PUT /api/users/{name}", s.withAuth(s.handleUpdateUser))
	mux.HandleFunc("DELETE /api/users/{name}", s.withAuth(s.handleDeleteUser))
	return mux
}

// withAuth wraps handlers that require a valid session cookie.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		sess, ok := s.sessions.Get(cookie.Value)
		if !ok {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		user, _ := s.cfgMgr.FindUser(sess.Username)
		if user.Username == "" {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		handler(w, r, user)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleLogin authenticates a user and sets a session cookie. Expected JSON:
// {"username":"...","password":"..."}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	user, err := s.cfgMgr.Authenticate(creds.Username, creds.Password)
	if err != nil {
		s.logger.Log("failed login for %q", creds.Username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	id, sess, err := s.sessions.Create(user.Username, sessionTTL)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	setSessionCookie(w, id, sess.Expires)
	s.logger.Log("login %s", user.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions.Get(cookie.Value); ok {
			s.logger.Log("logout %s", sess.Username)
		}
		s.sessions.Delete(cookie.Value)
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// PinView is the API representation of one pin.
type PinView struct {
	Pin       int        `json:"pin"`
	Name      string     `json:"name,omitempty"`
	Function  string     `json:"function"`
	Direction string     `json:"direction"`
	Level     string     `json:"level"`
	Active    bool       `json:"active"`
	Trigger   string     `json:"trigger"`
	Pending   bool       `json:"pending"`
	Handled   bool       `json:"handled"`
	Events    uint64     `json:"events"`
	LastEvent *time.Time `json:"last_event,omitempty"`
}

func (s *Server) pinView(pin gpio.Pin) (PinView, error) {
	st, err := s.ctl.Status(pin)
	if err != nil {
		return PinView{}, err
	}
	pc, _ := s.cfgMgr.FindPin(int(pin))
	pe := s.eventsFor(int(pin))
	v := PinView{
		Pin:       int(pin),
		Name:      pc.Name,
		Function:  st.Function.String(),
		Direction: st.Function.Direction().String(),
		Level:     st.Level.String(),
		Active:    pinActive(pc, st.Level),
		Trigger:   st.Trigger.String(),
		Pending:   st.Pending,
		Handled:   s.disp.Registered(pin),
		Events:    pe.Count,
	}
	if !pe.Last.IsZero() {
		v.LastEvent = &pe.Last
	}
	return v, nil
}

// handleStatus returns every configured pin, or every pin of the controller
// with ?all=1, plus the dispatcher counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user User) {
	cfg := s.cfgMgr.Get()
	var pins []gpio.Pin
	if r.URL.Query().Get("all") == "1" {
		for n := 0; n < s.ctl.Pins(); n++ {
			pins = append(pins, gpio.Pin(n))
		}
	} else {
		for _, pc := range cfg.Pins {
			pins = append(pins, gpio.Pin(pc.Pin))
		}
	}
	views := make([]PinView, 0, len(pins))
	for _, p := range pins {
		v, err := s.pinView(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, v)
	}
	layout := s.ctl.Directory().Layout().Name
	writeJSON(w, http.StatusOK, struct {
		Layout    string         `json:"layout"`
		Simulated bool           `json:"simulated"`
		Pins      []PinView      `json:"pins"`
		Stats     dispatch.Stats `json:"stats"`
	}{layout, s.hw.sim != nil, views, s.disp.Stats()})
}

// pinParam parses {n} and rejects pins the controller does not have.
func (s *Server) pinParam(w http.ResponseWriter, r *http.Request) (gpio.Pin, bool) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "invalid pin", http.StatusBadRequest)
		return 0, false
	}
	if err := s.ctl.Check(gpio.Pin(n)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return 0, false
	}
	return gpio.Pin(n), true
}

func (s *Server) handleGetPin(w http.ResponseWriter, r *http.Request, user User) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}
	v, err := s.pinView(pin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleSetPin drives an output ({"level":"high"}) or, for admins, changes
// the pin table entry ({"direction":"in","trigger":"falling",...}). Table
// changes are persisted and applied at once.
func (s *Server) handleSetPin(w http.ResponseWriter, r *http.Request, user User) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Level     *string         `json:"level"`
		Direction *string         `json:"direction"`
		Trigger   *string         `json:"trigger"`
		Name      *string         `json:"name"`
		ActiveLow *bool           `json:"active_low"`
		ManualAck *bool           `json:"manual_ack"`
		Actions   *[]ActionConfig `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	reconfigure := req.Direction != nil || req.Trigger != nil || req.Name != nil ||
		req.ActiveLow != nil || req.ManualAck != nil || req.Actions != nil
	if reconfigure {
		if !user.Admin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		pc, found := s.cfgMgr.FindPin(int(pin))
		if !found {
			dir, _ := s.ctl.Direction(pin)
			if dir == gpio.Alt {
				dir = gpio.Input
			}
			pc = PinConfig{Pin: int(pin), Direction: dir.String()}
		}
		if pc.Sysfs && req.Trigger != nil {
			http.Error(w, "trigger of a sysfs pin is fixed at startup", http.StatusConflict)
			return
		}
		if req.Direction != nil {
			pc.Direction = *req.Direction
			if d, err := gpio.ParseDirection(pc.Direction); err == nil && d == gpio.Input {
				pc.Initial = ""
			}
		}
		if req.Trigger != nil {
			pc.Trigger = *req.Trigger
		}
		if req.Name != nil {
			pc.Name = *req.Name
		}
		if req.ActiveLow != nil {
			pc.ActiveLow = *req.ActiveLow
		}
		if req.ManualAck != nil {
			pc.ManualAck = *req.ManualAck
		}
		if req.Actions != nil {
			pc.Actions = *req.Actions
		}
		err := s.cfgMgr.Update(func(c *Config) error {
			for i := range c.Pins {
				if c.Pins[i].Pin == pc.Pin {
					c.Pins[i] = pc
					return nil
				}
			}
			c.Pins = append(c.Pins, pc)
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.configurePin(pc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.logger.Log("configure gpio%d dir=%s trigger=%s by %s", pin, pc.Direction, pc.Trigger, user.Username)
	}
	if req.Level != nil {
		lvl, err := parseLevel(*req.Level)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if dir, _ := s.ctl.Direction(pin); dir != gpio.Output {
			http.Error(w, "not an output", http.StatusConflict)
			return
		}
		if err := s.ctl.Write(pin, lvl); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.logger.Log("write gpio%d %s by %s", pin, lvl, user.Username)
	}
	v, err := s.pinView(pin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, user User) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}
	if dir, _ := s.ctl.Direction(pin); dir != gpio.Output {
		http.Error(w, "not an output", http.StatusConflict)
		return
	}
	lvl, err := s.ctl.Toggle(pin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Log("toggle gpio%d -> %s by %s", pin, lvl, user.Username)
	writeJSON(w, http.StatusOK, map[string]string{"level": lvl.String()})
}

// handleAck clears a latched event, for pins configured with manual_ack or
// whose handler was skipped.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request, user User) {
	pin, ok := s.pinParam(w, r)
	if !ok {
		return
	}
	err := s.ctl.Acknowledge(pin)
	if err != nil && !errors.Is(err, gpioerr.ErrStaleAcknowledge) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	wasPending := err == nil
	if wasPending {
		s.logger.Log("acknowledge gpio%d by %s", pin, user.Username)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"was_pending": wasPending})
}

// handleLogs returns the tail of the event log. Admins only. ?lines=n limits
// the number of lines (default 200).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	limit := 200
	if n, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && n > 0 {
		limit = n
	}
	lines, err := s.logger.Tail(limit)
	if err != nil {
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	// Password hashes never leave the server.
	type userView struct {
		Username string `json:"username"`
		Admin    bool   `json:"admin"`
	}
	cfg := s.cfgMgr.Get()
	users := make([]userView, len(cfg.Users))
	for i, u := range cfg.Users {
		users[i] = userView{Username: u.Username, Admin: u.Admin}
	}
	writeJSON(w, http.StatusOK, users)
}

// bcrypt ignores anything past 72 bytes, so longer passwords are refused.
const maxPasswordLen = 72

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Admin    bool   `json:"admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" || len(req.Password) > maxPasswordLen {
		http.Error(w, "missing username or bad password", http.StatusBadRequest)
		return
	}
	hash := hashPassword(req.Password)
	err := s.cfgMgr.Update(func(c *Config) error {
		for _, u := range c.Users {
			if u.Username == req.Username {
				return errUserExists
			}
		}
		c.Users = append(c.Users, User{Username: req.Username, PasswordHash: hash, Admin: req.Admin})
		return nil
	})
	switch {
	case errors.Is(err, errUserExists):
		http.Error(w, "user exists", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Log("create user %s by %s", req.Username, user.Username)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	username := r.PathValue("name")
	var req struct {
		Password *string `json:"password,omitempty"`
		Admin    *bool   `json:"admin,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	var hash string
	if req.Password != nil {
		if *req.Password == "" || len(*req.Password) > maxPasswordLen {
			http.Error(w, "bad password", http.StatusBadRequest)
			return
		}
		hash = hashPassword(*req.Password)
	}
	err := s.cfgMgr.Update(func(c *Config) error {
		for i, u := range c.Users {
			if u.Username == username {
				if hash != "" {
					c.Users[i].PasswordHash = hash
				}
				if req.Admin != nil {
					c.Users[i].Admin = *req.Admin
				}
				return nil
			}
		}
		return errNotFound
	})
	switch {
	case errors.Is(err, errNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Log("update user %s by %s", username, user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	username := r.PathValue("name")
	if username == user.Username {
		http.Error(w, "cannot delete yourself", http.StatusBadRequest)
		return
	}
	err := s.cfgMgr.Update(func(c *Config) error {
		for i, u := range c.Users {
			if u.Username == username {
				c.Users = append(c.Users[:i], c.Users[i+1:]...)
				return nil
			}
		}
		return errNotFound
	})
	switch {
	case errors.Is(err, errNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.sessions.DeleteUser(username)
	s.logger.Log("delete user %s by %s", username, user.Username)
	w.WriteHeader(http.StatusNoContent)
}
