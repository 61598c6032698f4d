// Package server runs the trust boundary as a local HTTP service so
// gateway processes that do not speak MCP can call the gate, the
// output filter, and the device pairing flow over loopback.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/AIDilloBot/trustgate/internal/alert"
	"github.com/AIDilloBot/trustgate/internal/analyzer"
	"github.com/AIDilloBot/trustgate/internal/audit"
	"github.com/AIDilloBot/trustgate/internal/config"
	"github.com/AIDilloBot/trustgate/internal/device"
	"github.com/AIDilloBot/trustgate/internal/gate"
	"github.com/AIDilloBot/trustgate/internal/model"
	"github.com/AIDilloBot/trustgate/internal/prefilter"
	"github.com/AIDilloBot/trustgate/internal/ratelimit"
	"github.com/AIDilloBot/trustgate/internal/redact"
	"github.com/AIDilloBot/trustgate/internal/vault"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	ConfigPath string
}

// Server exposes the security pipeline over HTTP. The gate and config
// are swapped atomically on hot-reload; audit sinks and the vault
// live for the whole process.
type Server struct {
	mu          sync.RWMutex
	cfg         *config.SecurityConfig
	configHash  string
	gate        *gate.Gate
	devVerifier *device.Verifier
	limiter     *ratelimit.Limiter

	bus      *audit.Bus
	auditLog *audit.Log
	store    *audit.Store
	logPath  string

	vlt      *vault.Vault
	pairer   *device.Pairer
	identity *device.Identity

	challengeMu sync.Mutex
	challenges  map[string]device.Challenge

	httpServer *http.Server
	srvCfg     Config
}

// New assembles the pipeline from the security config and prepares
// the HTTP server. Call Serve to start listening.
func New(cfg Config) (*Server, error) {
	secCfg, hash, err := config.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load security config: %w", err)
	}

	bus := audit.NewBus()

	logPath := secCfg.Audit.LogPath
	if logPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			logPath = filepath.Join(home, ".trustgate", "audit.jsonl")
		}
	}
	var auditLog *audit.Log
	if logPath != "" {
		auditLog, err = audit.OpenLog(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		bus.Subscribe(auditLog.Listener())
	}

	var store *audit.Store
	if secCfg.Audit.DBPath != "" {
		store, err = audit.OpenStore(secCfg.Audit.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		bus.Subscribe(store.Listener())
	}

	if secCfg.Audit.Webhook.URL != "" {
		dispatcher := alert.NewDispatcher([]alert.Config{{
			URL:     secCfg.Audit.Webhook.URL,
			Format:  secCfg.Audit.Webhook.Format,
			Events:  secCfg.Audit.Webhook.Events,
			Headers: secCfg.Audit.Webhook.Headers,
		}})
		bus.Subscribe(dispatcher.Listener())
	}

	vlt, err := vault.Open(vault.Options{Dir: secCfg.VaultDir, Bus: bus})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	identity, err := device.LoadOrCreateIdentity(vlt, "server")
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity: %w", err)
	}

	s := &Server{
		bus:        bus,
		auditLog:   auditLog,
		store:      store,
		logPath:    logPath,
		vlt:        vlt,
		pairer:     device.NewPairer(vlt, bus),
		identity:   identity,
		challenges: make(map[string]device.Challenge),
		srvCfg:     cfg,
	}
	if err := s.apply(secCfg, hash); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/challenge", s.handleChallenge)
	mux.HandleFunc("POST /v1/pair", s.handlePair)
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("POST /v1/filter-output", s.handleFilterOutput)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:7477"
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// apply swaps in a freshly loaded config and the gate built from it.
func (s *Server) apply(secCfg *config.SecurityConfig, hash string) error {
	filter, err := prefilter.Load(secCfg.Injection.PatternsPath)
	if err != nil {
		return fmt.Errorf("failed to load filter patterns: %w", err)
	}

	var an *analyzer.Analyzer
	if secCfg.Analyzer.URL != "" {
		provider := analyzer.NewHTTPProvider(
			secCfg.Analyzer.URL,
			secCfg.Analyzer.APIKey,
			secCfg.Analyzer.Model,
			time.Duration(secCfg.Analyzer.TimeoutSeconds)*time.Second,
		)
		an = analyzer.New(provider, analyzer.Config{
			BlockAt: model.ParseSeverity(secCfg.Analyzer.BlockAt),
			WarnAt:  model.ParseSeverity(secCfg.Analyzer.WarnAt),
		})
	}

	serverIdentity := secCfg.Devices.ServerIdentity
	if serverIdentity == "" {
		serverIdentity = "trustgate"
	}
	dv := device.NewVerifier(serverIdentity)
	if secCfg.Devices.ValiditySeconds > 0 {
		dv.Validity = time.Duration(secCfg.Devices.ValiditySeconds) * time.Second
	}
	if secCfg.Devices.SkewSeconds > 0 {
		dv.Skew = time.Duration(secCfg.Devices.SkewSeconds) * time.Second
	}

	limiter := ratelimit.New(
		secCfg.Devices.MaxAuthFailures,
		time.Duration(secCfg.Devices.LockoutWindowSeconds)*time.Second,
	)

	s.mu.Lock()
	s.cfg = secCfg
	s.configHash = hash
	s.gate = gate.New(gate.NewOrchestrator(secCfg.Injection, filter, an, s.bus), s.bus)
	s.devVerifier = dv
	s.limiter = limiter
	s.mu.Unlock()
	return nil
}

// ReloadConfig re-reads the security config and pattern rules and
// swaps them in. Called by the hot-reloader on file change. Audit
// sink paths are fixed at startup and not re-opened here.
func (s *Server) ReloadConfig() error {
	secCfg, hash, err := config.LoadConfigWithHash(s.srvCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload security config: %w", err)
	}
	return s.apply(secCfg, hash)
}

// Serve starts the HTTP server. Blocks until Shutdown.
func (s *Server) Serve() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeOn starts the HTTP server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.httpServer.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler returns the route mux. For testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// WatchPaths returns the files the hot-reloader should watch.
func (s *Server) WatchPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []string{s.srvCfg.ConfigPath, s.cfg.Injection.PatternsPath}
}

// Close releases the audit sinks.
func (s *Server) Close() error {
	if s.store != nil {
		s.store.Close()
	}
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// CheckRequest is the /v1/check request body. Auth is required when
// device challenge verification is enabled.
type CheckRequest struct {
	Content        string           `json:"content"`
	SessionKey     string           `json:"session_key"`
	SenderID       string           `json:"sender_id,omitempty"`
	Channel        string           `json:"channel,omitempty"`
	EnableAnalysis bool             `json:"enable_analysis"`
	Auth           *device.Response `json:"auth,omitempty"`
}

// PairRequest is the /v1/pair request body: a signed challenge
// response from the device asking to be paired.
type PairRequest struct {
	Auth device.Response `json:"auth"`
}

type statusResponse struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	ConfigHash string `json:"config_hash"`
	Paired     int    `json:"paired_devices"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	hash := s.configHash
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, statusResponse{
		Name:       "trustgate",
		Version:    "0.1.0",
		ConfigHash: hash,
		Paired:     len(s.vlt.ListNamespace(vault.NSPairing)),
	})
}

// handleChallenge issues a fresh single-use challenge. The nonce is
// remembered server-side so a client cannot fabricate its own.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	serverIdentity := s.devVerifier.ServerIdentity
	validity := s.devVerifier.Validity
	skew := s.devVerifier.Skew
	s.mu.RUnlock()

	c, err := device.NewChallenge(serverIdentity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.challengeMu.Lock()
	horizon := time.Now().Add(-(validity + skew)).UnixMilli()
	for nonce, old := range s.challenges {
		if old.IssuedAtMillis < horizon {
			delete(s.challenges, nonce)
		}
	}
	s.challenges[c.Nonce] = c
	s.challengeMu.Unlock()

	writeJSON(w, http.StatusOK, c)
}

// takeChallenge consumes the issued challenge matching the nonce.
func (s *Server) takeChallenge(nonce string) (device.Challenge, bool) {
	s.challengeMu.Lock()
	defer s.challengeMu.Unlock()
	c, ok := s.challenges[nonce]
	if ok {
		delete(s.challenges, nonce)
	}
	return c, ok
}

// authenticate verifies a signed challenge response and returns the
// derived device id. Failures are recorded on the audit bus and
// counted toward the per-host lockout.
func (s *Server) authenticate(resp *device.Response, remote string) (string, error) {
	s.mu.RLock()
	dv := s.devVerifier
	limiter := s.limiter
	s.mu.RUnlock()

	host := hostOf(remote)
	if limiter.Blocked(host) {
		return "", fmt.Errorf("%s", limiter.Reason())
	}

	if resp == nil {
		s.recordAuthFailure(limiter, host, remote, device.ReasonVerificationError)
		return "", fmt.Errorf("missing challenge response")
	}

	issued, ok := s.takeChallenge(resp.Challenge.Nonce)
	if !ok {
		s.recordAuthFailure(limiter, host, remote, device.ReasonNonceMismatch)
		return "", fmt.Errorf("unknown or already used challenge")
	}

	deviceID, err := dv.Verify(issued, *resp)
	if err != nil {
		reason := device.ReasonVerificationError
		var ve *device.VerifyError
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		s.recordAuthFailure(limiter, host, remote, reason)
		return "", err
	}
	limiter.Reset(host)
	return deviceID, nil
}

func (s *Server) recordAuthFailure(limiter *ratelimit.Limiter, host, remote string, reason device.Reason) {
	limiter.RecordFailure(host)
	s.pairer.RecordAuthFailure(remote, reason)
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	deviceID, err := s.authenticate(&req.Auth, r.RemoteAddr)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	if s.pairer.IsPaired(deviceID) {
		writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "status": "already_paired"})
		return
	}
	if !s.pairer.CanBootstrap(r.RemoteAddr) {
		s.pairer.RecordAuthFailure(r.RemoteAddr, device.ReasonVerificationError)
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "pairing requires a loopback connection on first run"})
		return
	}
	if err := s.pairer.Pair(deviceID, r.RemoteAddr); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "status": "paired"})
}

// requireDevice enforces the challenge policy on a handler. When the
// config demands a challenge, the caller must present a valid signed
// response from a paired device; the error response is written here.
func (s *Server) requireDevice(w http.ResponseWriter, r *http.Request, auth *device.Response) bool {
	s.mu.RLock()
	requireChallenge := s.cfg.Devices.RequireChallenge
	s.mu.RUnlock()

	if !requireChallenge {
		return true
	}
	deviceID, err := s.authenticate(auth, r.RemoteAddr)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return false
	}
	if !s.pairer.IsPaired(deviceID) {
		s.pairer.RecordAuthFailure(r.RemoteAddr, device.ReasonVerificationError)
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "device not paired"})
		return false
	}
	return true
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if !s.requireDevice(w, r, req.Auth) {
		return
	}

	s.mu.RLock()
	g := s.gate
	s.mu.RUnlock()

	res := g.Run(r.Context(), gate.Request{
		Content:        req.Content,
		SessionKey:     req.SessionKey,
		SenderID:       req.SenderID,
		Channel:        req.Channel,
		EnableAnalysis: req.EnableAnalysis,
	})
	writeJSON(w, http.StatusOK, res)
}

type filterOutputRequest struct {
	Text string           `json:"text"`
	Auth *device.Response `json:"auth,omitempty"`
}

type filterOutputResponse struct {
	Text       string   `json:"text"`
	Redacted   bool     `json:"redacted"`
	Categories []string `json:"categories,omitempty"`
}

func (s *Server) handleFilterOutput(w http.ResponseWriter, r *http.Request) {
	var req filterOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if !s.requireDevice(w, r, req.Auth) {
		return
	}

	s.mu.RLock()
	enabled := s.cfg.Output.RedactionEnabled
	s.mu.RUnlock()

	if !enabled {
		writeJSON(w, http.StatusOK, filterOutputResponse{Text: req.Text})
		return
	}

	res := redact.Filter(req.Text)
	out := filterOutputResponse{Text: res.Text, Redacted: res.Redacted}
	for _, c := range res.Categories {
		out.Categories = append(out.Categories, string(c))
	}
	if res.Redacted {
		ev := audit.NewEvent(audit.EventOutputRedacted, model.SeverityMedium, req.Text)
		ev.Detail = map[string]string{"categories": fmt.Sprint(res.Categories)}
		s.bus.Emit(ev)
	}
	writeJSON(w, http.StatusOK, out)
}

// eventsRequest carries the optional auth body on GET /v1/events. The
// audit trail names senders and channels, so it is gated like check.
type eventsRequest struct {
	Auth *device.Response `json:"auth,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if !s.requireDevice(w, r, req.Auth) {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var (
		events []audit.Event
		err    error
	)
	if s.store != nil {
		events, err = s.store.Recent(limit, "")
	} else {
		events, err = audit.Tail(s.logPath, limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
