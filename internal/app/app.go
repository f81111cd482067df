package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"focusd/internal/activity"
	"focusd/internal/alarm"
	"focusd/internal/collector"
	"focusd/internal/collector/x11"
	"focusd/internal/config"
	"focusd/internal/enforce"
	"focusd/internal/ipc"
	"focusd/internal/reward"
	"focusd/internal/session"
	"focusd/internal/store"
	"focusd/internal/sync"

	sqlitestore "focusd/internal/store/sqlite"
)

// alarmVersionCheck is the periodic remote policy check owned by the app.
const alarmVersionCheck = "versionCheck"

type App struct {
	cfg        *config.Config
	kv         store.KV
	store      *store.StateStore
	alarms     *alarm.Scheduler
	sessions   *session.Manager
	reconciler *sync.Reconciler
	classifier *activity.Classifier
	watcher    collector.Collector

	// filter is rebuilt on config reload and swapped atomically.
	filterMu stdsync.RWMutex
	filter   *enforce.Filter

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	navChan chan collector.Navigation

	wg     stdsync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		socketPath: ipc.SocketPath,
		navChan:    make(chan collector.Navigation, 100),
		ctx:        ctx,
		cancel:     cancel,
	}

	// Initialize storage
	a.kv = sqlitestore.NewSQLiteKV(cfg.DatabasePath)
	if err := a.kv.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store.NewStateStore(a.kv)

	if err := a.ensureDeviceID(ctx); err != nil {
		log.Printf("Warning: failed to persist device id: %v", err)
	}

	a.alarms = alarm.NewScheduler()
	a.classifier = activity.NewClassifier(a.store)
	a.filter = buildFilter(cfg)

	a.sessions = session.NewManager(a.store, a.alarms, nil)
	a.reconciler = sync.NewReconciler(cfg.Sync.BackendURL, a.store, a.alarms)
	a.reconciler.OnAuthConflict = func() {
		log.Println("Device conflict: credentials cleared, re-authentication required.")
	}
	a.sessions.SetSyncer(a.reconciler)

	// Optional window watcher; the socket feed works without it.
	if cfg.Collector.Enabled {
		w, err := x11.NewX11Watcher()
		if err != nil {
			log.Printf("Warning: Failed to initialize X11 watcher: %v. Window tracking disabled.", err)
		} else {
			a.watcher = w
		}
	}

	return a, nil
}

// ensureDeviceID assigns a stable device identity on first run. The id
// survives credential clearing so a re-login keeps the same device.
func (a *App) ensureDeviceID(ctx context.Context) error {
	auth, err := a.store.Auth(ctx)
	if err != nil {
		return err
	}
	if auth.DeviceID != "" {
		return nil
	}
	auth.DeviceID = uuid.NewString()
	log.Printf("Assigned device id %s", auth.DeviceID)
	return a.store.SetAuth(ctx, auth)
}

func buildFilter(cfg *config.Config) *enforce.Filter {
	return &enforce.Filter{
		Permanent:   cfg.Enforce.PermanentBlockList,
		AllowList:   cfg.Enforce.AllowList,
		Keywords:    cfg.Enforce.BlockKeywords,
		BlockedPage: cfg.Enforce.BlockedPage,
	}
}

func (a *App) currentFilter() *enforce.Filter {
	a.filterMu.RLock()
	defer a.filterMu.RUnlock()
	return a.filter
}

// setupSocket checks for an existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer a.wg.Done()
	defer log.Println("Socket command listener stopped.")

	if a.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				log.Println("Listener closing due to context cancellation.")
				return
			default:
				log.Printf("Failed to accept connection: %v", err)
				if ne, ok := err.(net.Error); ok && !ne.Temporary() {
					log.Printf("Non-temporary accept error, stopping listener.")
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection reads one command, processes it, and sends the response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Err: "failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	if cmd.Action != ipc.ActionReportNavigation {
		log.Printf("Received command: %s", cmd.Action)
	}

	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	ctx := a.ctx

	switch cmd.Action {
	case ipc.ActionPing:
		return ipc.Response{OK: true, Data: "pong"}

	case ipc.ActionStartSession:
		var args ipc.StartSessionArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Err: fmt.Sprintf("invalid args for %s: %v", cmd.Action, err)}
		}
		if args.DurationMinutes == 0 && args.Preset != "" {
			minutes, ok := a.cfg.Presets[args.Preset]
			if !ok {
				return ipc.Response{Err: fmt.Sprintf("unknown preset %q", args.Preset)}
			}
			args.DurationMinutes = minutes
		}
		if err := a.sessions.Start(ctx, args.DurationMinutes, args.Passcode, args.Preset); err != nil {
			return ipc.Response{Err: err.Error()}
		}
		return a.stateResponse(ctx)

	case ipc.ActionEndSession:
		var args ipc.EndSessionArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Err: fmt.Sprintf("invalid args for %s: %v", cmd.Action, err)}
		}
		if err := a.sessions.End(ctx, args.Passcode); err != nil {
			return ipc.Response{Err: err.Error()}
		}
		return a.stateResponse(ctx)

	case ipc.ActionEmergencyBreak:
		if err := a.sessions.EmergencyBreak(ctx); err != nil {
			return ipc.Response{Err: err.Error()}
		}
		return a.stateResponse(ctx)

	case ipc.ActionGetState:
		return a.stateResponse(ctx)

	case ipc.ActionGetStats:
		return a.statsResponse(ctx)

	case ipc.ActionCheckBadges:
		return a.checkBadges(ctx)

	case ipc.ActionCheckVersionStatus:
		gate, err := a.reconciler.CheckVersion(ctx)
		if err != nil {
			// Fall back to the cached verdict; the gate fails open.
			log.Printf("Version check failed: %v", err)
			gate, _ = a.store.VersionGate(ctx)
		}
		return ipc.Response{OK: true, Data: ipc.VersionData{Blocked: gate.Blocked, Message: gate.Message}}

	case ipc.ActionReportNavigation:
		var args ipc.ReportNavigationArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Err: fmt.Sprintf("invalid args for %s: %v", cmd.Action, err)}
		}
		data, err := a.handleNavigation(ctx, args.URL, args.Title, true)
		if err != nil {
			return ipc.Response{Err: err.Error()}
		}
		return ipc.Response{OK: true, Data: data}

	default:
		return ipc.Response{Err: fmt.Sprintf("unknown action: %s", cmd.Action)}
	}
}

func (a *App) stateResponse(ctx context.Context) ipc.Response {
	sess, err := a.store.Session(ctx)
	if err != nil {
		return ipc.Response{Err: err.Error()}
	}
	stats, _ := a.store.Stats(ctx)
	streak, _ := a.store.Streak(ctx)
	profile, _ := a.store.Profile(ctx)
	act, _ := a.store.Activity(ctx)
	gate, _ := a.store.VersionGate(ctx)
	_, pending, _ := a.store.PendingSync(ctx)
	// Never leak the passcode to clients.
	sess.Passcode = ""
	return ipc.Response{OK: true, Data: ipc.StateData{
		Session:     sess,
		Stats:       stats,
		Streak:      streak,
		Profile:     profile,
		Activity:    act,
		VersionGate: gate,
		PendingSync: pending,
	}}
}

func (a *App) statsResponse(ctx context.Context) ipc.Response {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return ipc.Response{Err: err.Error()}
	}
	streak, _ := a.store.Streak(ctx)
	profile, _ := a.store.Profile(ctx)
	history, _ := a.store.History(ctx)
	return ipc.Response{OK: true, Data: ipc.StatsData{
		Stats:   stats,
		Streak:  streak,
		Profile: profile,
		History: history,
	}}
}

// checkBadges re-runs every badge predicate against cumulative state and
// persists any newly earned ids.
func (a *App) checkBadges(ctx context.Context) ipc.Response {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return ipc.Response{Err: err.Error()}
	}
	streak, _ := a.store.Streak(ctx)
	profile, _ := a.store.Profile(ctx)

	facts := reward.Facts{
		SessionsCompleted: stats.SessionsCompleted,
		TotalMinutes:      stats.TotalFocusTimeMinutes,
		StreakCurrent:     streak.Current,
		StreakLongest:     streak.Longest,
		Level:             profile.Level,
		Points:            profile.Points,
	}
	newBadges := reward.EvaluateBadges(profile, facts)
	if len(newBadges) > 0 {
		profile.Badges = append(profile.Badges, newBadges...)
		if err := a.store.SetProfile(ctx, profile); err != nil {
			return ipc.Response{Err: err.Error()}
		}
		log.Printf("Badges unlocked: %v", newBadges)
		go func() {
			pushCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := a.reconciler.PushLocal(pushCtx); err != nil {
				log.Printf("Push after badge unlock failed: %v", err)
			}
		}()
	}
	return ipc.Response{OK: true, Data: ipc.BadgeData{NewBadges: newBadges, Badges: profile.Badges}}
}

// mirrorSettings pushes the user-configurable enforcement settings to the
// backend so other devices pick them up.
func (a *App) mirrorSettings(settings config.EnforceConfig) {
	if err := a.reconciler.PushSettings(a.ctx, settings); err != nil {
		log.Printf("Settings push failed (ignored): %v", err)
	}
}

// handleNavigation evaluates enforcement (for navigations the client can
// actually cancel) and refreshes the activity snapshot.
func (a *App) handleNavigation(ctx context.Context, rawURL, title string, enforceable bool) (ipc.NavigationData, error) {
	sess, err := a.store.Session(ctx)
	if err != nil {
		return ipc.NavigationData{}, err
	}
	focusing := sess.Active && !sess.OnBreak

	data := ipc.NavigationData{Allow: true}
	if enforceable {
		verdict := a.currentFilter().Evaluate(rawURL, sess.Active, sess.OnBreak)
		data.Allow = verdict.Allow
		data.Redirect = verdict.Redirect
		data.Reason = verdict.Reason
		if verdict.Blocked {
			if err := a.sessions.RecordBlocked(ctx); err != nil {
				log.Printf("Failed to record blocked attempt: %v", err)
			}
			data.Activity, _ = a.store.Activity(ctx)
			return data, nil
		}
	}

	snap := a.classifier.Classify(ctx, rawURL, title, focusing)
	if err := a.store.SetActivity(ctx, snap); err != nil {
		log.Printf("Failed to store activity snapshot: %v", err)
	}
	a.reconciler.PushActivity(ctx, snap)
	data.Activity = snap
	return data, nil
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting focusd daemon...")
	log.Printf("Backend: %s", a.cfg.Sync.BackendURL)
	if a.watcher == nil {
		log.Println("Window tracking: DISABLED")
	} else {
		log.Println("Window tracking: ENABLED")
	}

	// Recover any session left over from a previous run before accepting
	// commands; a stale active session would otherwise double-arm alarms.
	if err := a.sessions.Recover(a.ctx); err != nil {
		log.Printf("Warning: session recovery failed: %v", err)
	}

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()

	// Hot-reload the enforcement lists when the config file changes.
	// Everything else (socket, intervals, presets) needs a restart.
	config.Watch(func(cfg *config.Config) {
		a.filterMu.Lock()
		a.filter = buildFilter(cfg)
		a.filterMu.Unlock()
		log.Println("Enforcement lists reloaded.")
		go a.mirrorSettings(cfg.Enforce)
	})

	a.wg.Add(1)
	go a.alarmLoop()

	a.wg.Add(1)
	go a.pullLoop()

	a.wg.Add(1)
	go a.navigationLoop()

	if a.watcher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			interval := time.Duration(a.cfg.Collector.CollectionIntervalSeconds) * time.Second
			err := a.watcher.Start(a.ctx, interval, a.navChan)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Window watcher error: %v", err)
			}
		}()
	}

	// Kick off the version gate and any pending push right away.
	a.alarms.Schedule(alarmVersionCheck, time.Now())
	if _, pending, _ := a.store.PendingSync(a.ctx); pending {
		a.alarms.Schedule(sync.AlarmSyncRetry, time.Now())
	}

	a.wg.Add(1)
	go a.listenForCommands()

	log.Println("focusd running. Send commands via focusd-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	log.Println("focusd finished.")
	return nil
}

// alarmLoop drains the scheduler and routes fires to their owners. Handlers
// re-validate persisted state, so a stale fire is harmless.
func (a *App) alarmLoop() {
	defer a.wg.Done()
	defer log.Println("Alarm loop stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case fire := <-a.alarms.Fires():
			switch fire.Name {
			case session.AlarmSessionEnd, session.AlarmBreakEnd, session.AlarmAutoBreakEnd:
				if err := a.sessions.HandleAlarm(a.ctx, fire.Name); err != nil {
					log.Printf("Alarm %s failed: %v", fire.Name, err)
				}
			case sync.AlarmSyncRetry:
				if err := a.reconciler.PushLocal(a.ctx); err != nil {
					log.Printf("Sync retry failed: %v", err)
				}
			case alarmVersionCheck:
				if _, err := a.reconciler.CheckVersion(a.ctx); err != nil {
					log.Printf("Version check failed: %v", err)
				}
				next := time.Duration(a.cfg.Sync.VersionCheckHours) * time.Hour
				a.alarms.Schedule(alarmVersionCheck, time.Now().Add(next))
			default:
				log.Printf("Unknown alarm fired: %s", fire.Name)
			}
		}
	}
}

// pullLoop periodically overwrites local cumulative state with the remote
// authoritative copy.
func (a *App) pullLoop() {
	defer a.wg.Done()
	defer log.Println("Pull loop stopped.")

	interval := time.Duration(a.cfg.Sync.PullIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			auth, err := a.store.Auth(a.ctx)
			if err != nil || auth.Token == "" {
				continue
			}
			if err := a.reconciler.PullRemote(a.ctx); err != nil {
				log.Printf("Pull failed: %v", err)
			}
		}
	}
}

// navigationLoop consumes watcher-sourced navigations. The watcher cannot
// cancel a page load, so these only refresh the activity snapshot.
func (a *App) navigationLoop() {
	defer a.wg.Done()
	defer log.Println("Navigation loop stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case nav := <-a.navChan:
			if _, err := a.handleNavigation(a.ctx, nav.URL, nav.Title, false); err != nil {
				log.Printf("Failed to process navigation: %v", err)
			}
		}
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v. Initiating shutdown...", sig)
		a.cancel()
	}()
}

// cleanup needs to ensure socket removal
func (a *App) cleanup() {
	log.Println("Running cleanup...")

	markCtx, markCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer markCancel()
	a.sessions.MarkSuspend(markCtx)

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			log.Printf("Error stopping window watcher: %v", err)
		}
	}
	a.alarms.Stop()

	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}

	if _, err := os.Stat(a.socketPath); err == nil {
		log.Printf("Removing socket file: %s", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
		}
	}

	log.Println("Cleanup finished.")
}
