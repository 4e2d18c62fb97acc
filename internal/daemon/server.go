// Package daemon is the kitchend HTTP surface: venue-scoped timer CRUD,
// lifecycle actions, a websocket change feed, and an ndjson watch endpoint
// for one-shot polling clients.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/prepline/kitchend/internal/api"
	"github.com/prepline/kitchend/internal/config"
	"github.com/prepline/kitchend/internal/db"
	"github.com/prepline/kitchend/internal/feed"
	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

type Server struct {
	cfg         config.Config
	httpSrv     *http.Server
	listener    net.Listener
	lockFile    *os.File
	store       *db.Store
	hub         *feed.Hub
	streamID    string
	derive      timercore.Config
	logf        func(format string, args ...any)
	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, store *db.Store, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	mux := http.NewServeMux()
	streamID := uuid.NewString()
	s := &Server{
		cfg:      cfg,
		store:    store,
		streamID: streamID,
		hub:      feed.NewHub(streamID, cfg.FeedPingInterval, cfg.WriteTimeout, logf),
		derive: timercore.Config{
			SafeRatio:     cfg.SafeRatio,
			WarningRatio:  cfg.WarningRatio,
			CompleteGrace: cfg.CompleteGrace,
		},
		logf: logf,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/venues/", s.venueHandler)
	return s
}

// Hub exposes the feed hub so the sweep loop can broadcast the transitions
// it applies.
func (s *Server) Hub() *feed.Hub { return s.hub }

func (s *Server) StreamID() string { return s.streamID }

func (s *Server) Start(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		s.hub.Close()
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// Addr reports the bound listen address, useful when the config asked for
// port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Handler exposes the mux for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// venueHandler routes /v1/venues/{venue}/... by hand. Paths:
//
//	{venue}/timers            GET list, POST start
//	{venue}/timers/{id}       PUT upsert, DELETE remove
//	{venue}/timers/{id}/{op}  POST pause|resume|add-time|snooze|dismiss
//	{venue}/feed              GET websocket
//	{venue}/watch             GET ndjson one-shot
func (s *Server) venueHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/venues/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "venue route not found")
		return
	}
	venueID := parts[0]
	switch {
	case parts[1] == "feed" && len(parts) == 2:
		s.feedHandler(w, r, venueID)
	case parts[1] == "watch" && len(parts) == 2:
		s.watchHandler(w, r, venueID)
	case parts[1] == "timers" && len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			s.listTimersHandler(w, r, venueID)
		case http.MethodPost:
			s.startTimerHandler(w, r, venueID)
		default:
			s.methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case parts[1] == "timers" && len(parts) == 3:
		timerID := parts[2]
		switch r.Method {
		case http.MethodPut:
			s.upsertTimerHandler(w, r, venueID, timerID)
		case http.MethodDelete:
			s.deleteTimerHandler(w, r, venueID, timerID)
		case http.MethodGet:
			s.getTimerHandler(w, r, venueID, timerID)
		default:
			s.methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case parts[1] == "timers" && len(parts) == 4:
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}
		s.timerActionHandler(w, r, venueID, parts[2], parts[3])
	default:
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "venue route not found")
	}
}

func (s *Server) listTimersHandler(w http.ResponseWriter, r *http.Request, venueID string) {
	timers, err := s.store.ListTimers(r.Context(), venueID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	now := time.Now().UTC()
	latest, err := s.store.LatestChangeSeq(r.Context(), venueID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	items := make([]api.TimerItem, 0, len(timers))
	for _, t := range timers {
		items = append(items, s.toItem(t, now))
	}
	resp := api.TimersEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		VenueID:       venueID,
		Cursor:        fmt.Sprintf("%s:%d", s.streamID, latest),
		Timers:        items,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getTimerHandler(w http.ResponseWriter, r *http.Request, venueID, timerID string) {
	t, err := s.store.GetTimer(r.Context(), timerID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && t.VenueID != venueID) {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "timer not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	now := time.Now().UTC()
	resp := api.TimerEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Timer:         s.toItem(t, now),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) startTimerHandler(w http.ResponseWriter, r *http.Request, venueID string) {
	if !s.timersEnabled(w) {
		return
	}
	var req api.StartTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	now := time.Now().UTC()
	t := model.Timer{
		ID:              uuid.NewString(),
		VenueID:         venueID,
		Label:           strings.TrimSpace(req.Label),
		Type:            model.TimerType(req.TimerType),
		DurationSeconds: req.DurationSeconds,
		Status:          model.StatusRunning,
		AlertType:       model.AlertType(req.AlertType),
		Critical:        req.Critical,
		Station:         req.Station,
		Notes:           req.Notes,
		Icon:            req.Icon,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	change, applied, err := s.store.ApplyUpsert(r.Context(), t)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if applied {
		s.broadcastChange(change)
	}
	resp := api.TimerEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Timer:         s.toItem(t, now),
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) upsertTimerHandler(w http.ResponseWriter, r *http.Request, venueID, timerID string) {
	if !s.timersEnabled(w) {
		return
	}
	var req api.UpsertTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
		return
	}
	t, err := api.ToTimer(req.Timer)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, err.Error())
		return
	}
	if t.ID != timerID || t.VenueID != venueID {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "timer id or venue does not match route")
		return
	}
	change, applied, err := s.store.ApplyUpsert(r.Context(), t)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if applied {
		s.broadcastChange(change)
	} else {
		// Last-writer-wins dropped the submission. Return the winning
		// record so the caller converges instead of trusting its echo.
		current, err := s.store.GetTimer(r.Context(), timerID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		t = current
	}
	now := time.Now().UTC()
	resp := api.TimerEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Timer:         s.toItem(t, now),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteTimerHandler(w http.ResponseWriter, r *http.Request, venueID, timerID string) {
	if !s.timersEnabled(w) {
		return
	}
	change, applied, err := s.store.ApplyDelete(r.Context(), venueID, timerID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	if applied {
		s.broadcastChange(change)
	}
	w.WriteHeader(http.StatusNoContent)
}

// timerActionHandler applies one lifecycle action authoritatively. Stale or
// unknown ids are a no-op with a 204 so presentation callers never have to
// special-case reconnect races.
func (s *Server) timerActionHandler(w http.ResponseWriter, r *http.Request, venueID, timerID, action string) {
	if !s.timersEnabled(w) {
		return
	}
	now := time.Now().UTC()
	t, err := s.store.GetTimer(r.Context(), timerID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && t.VenueID != venueID) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}

	var changed bool
	switch action {
	case "pause":
		t, changed = timercore.PauseTimer(t, now)
	case "resume":
		t, changed = timercore.ResumeTimer(t, now)
	case "add-time":
		var req api.AddTimeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
			return
		}
		t, changed, _ = timercore.AddTimeTo(t, req.Seconds, now)
	case "snooze":
		var req api.SnoozeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid request body")
			return
		}
		interval := time.Duration(req.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = s.cfg.DefaultSnoozeInterval
		}
		t, changed = timercore.SnoozeTimer(t, interval, now)
	case "dismiss":
		change, applied, err := s.store.ApplyDelete(r.Context(), venueID, timerID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
			return
		}
		if applied {
			s.broadcastChange(change)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "unknown timer action")
		return
	}

	if changed {
		change, applied, err := s.store.ApplyUpsert(r.Context(), t)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		if applied {
			s.broadcastChange(change)
		}
	}
	resp := api.TimerEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		Timer:         s.toItem(t, now),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) feedHandler(w http.ResponseWriter, r *http.Request, venueID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	snapshot, err := s.snapshotLine(r.Context(), venueID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	if err := s.hub.Serve(w, r, venueID, snapshot); err != nil {
		s.logf("daemon: feed subscribe venue=%s: %v", venueID, err)
	}
}

// watchHandler emits ndjson once and closes: either the changes since the
// cursor, or a reset line followed by a full snapshot when the cursor is
// missing, from another stream, or already purged.
func (s *Server) watchHandler(w http.ResponseWriter, r *http.Request, venueID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	cursorStreamID, cursorSeq, hasCursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCursorInvalid, "invalid cursor")
		return
	}

	needReset := !hasCursor || cursorStreamID != s.streamID
	if !needReset {
		oldest, ok, err := s.store.OldestChangeSeq(r.Context(), venueID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
			return
		}
		// A cursor older than the oldest retained change has a gap the
		// log can no longer replay.
		if ok && cursorSeq+1 < oldest {
			needReset = true
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)

	if needReset {
		line, err := s.snapshotLine(r.Context(), venueID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
			return
		}
		reset := line
		reset.Type = "reset"
		reset.Timers = nil
		_ = enc.Encode(reset)
		_ = enc.Encode(line)
		return
	}

	changes, err := s.store.ListChangesSince(r.Context(), venueID, cursorSeq, 500)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	for _, c := range changes {
		_ = enc.Encode(s.changeLine(c))
	}
}

// snapshotLine builds a full-state feed line with the venue's latest cursor.
func (s *Server) snapshotLine(ctx context.Context, venueID string) (api.FeedLine, error) {
	timers, err := s.store.ListTimers(ctx, venueID)
	if err != nil {
		return api.FeedLine{}, err
	}
	latest, err := s.store.LatestChangeSeq(ctx, venueID)
	if err != nil {
		return api.FeedLine{}, err
	}
	now := time.Now().UTC()
	items := make([]api.TimerItem, 0, len(timers))
	for _, t := range timers {
		items = append(items, s.toItem(t, now))
	}
	return api.FeedLine{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
		StreamID:      s.streamID,
		Cursor:        fmt.Sprintf("%s:%d", s.streamID, latest),
		VenueID:       venueID,
		Type:          "snapshot",
		Timers:        items,
	}, nil
}

func (s *Server) changeLine(c model.Change) api.FeedLine {
	item := api.FromChange(c)
	return api.FeedLine{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		StreamID:      s.streamID,
		Cursor:        fmt.Sprintf("%s:%d", s.streamID, c.Seq),
		VenueID:       c.VenueID,
		Type:          "change",
		Change:        &item,
	}
}

// BroadcastChange pushes one applied change to the venue's feed subscribers.
// The sweep loop uses this for transitions it writes directly.
func (s *Server) BroadcastChange(c model.Change) {
	s.broadcastChange(c)
}

func (s *Server) broadcastChange(c model.Change) {
	s.hub.Broadcast(c.VenueID, s.changeLine(c))
}

func (s *Server) toItem(t model.Timer, now time.Time) api.TimerItem {
	item := api.FromTimer(t)
	remaining := timercore.RemainingSeconds(t, now)
	progress := timercore.Progress(t, now)
	item.RemainingSeconds = &remaining
	item.Progress = &progress
	item.Urgency = string(timercore.UrgencyFor(t, now, s.derive))
	return item
}

func (s *Server) timersEnabled(w http.ResponseWriter) bool {
	if s.cfg.TimersEnabled {
		return true
	}
	s.writeError(w, http.StatusForbidden, model.ErrTimersDisabled, "timers are disabled")
	return false
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrInvalidTimer) {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}

func parseCursor(raw string) (string, int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", 0, false, fmt.Errorf("invalid cursor format")
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, false, fmt.Errorf("invalid cursor sequence")
	}
	return parts[0], seq, true, nil
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.LockPath
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
