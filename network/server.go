package network

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.dedis.ch/kyber/v4"

	"github.com/luca-patrignani/accord/catalog"
	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
)

// JoinRequest is the body of POST /v1/join.
type JoinRequest struct {
	Name string `json:"name"`
	// PublicKey is a base64 Ed25519 point. Parties joining without one send
	// unsigned events.
	PublicKey string `json:"public_key,omitempty"`
}

// JoinResponse is returned to an admitted party.
type JoinResponse struct {
	SessionID string `json:"session_id"`
	PartyID   string `json:"party_id"`
	Token     string `json:"token"`
}

// Status describes the progress of a session.
type Status struct {
	SessionID string `json:"session_id"`
	Parties   int    `json:"parties"`
	Joined    int    `json:"joined"`
	Ready     bool   `json:"ready"`
	Frozen    bool   `json:"frozen"`
	Resolved  bool   `json:"resolved"`
	// Stage is the current step of the session timeline, if the host
	// publishes one.
	Stage       string    `json:"stage,omitempty"`
	StageEndsAt time.Time `json:"stage_ends_at,omitempty"`
}

type appendResponse struct {
	Seq uint64 `json:"seq"`
}

type eventsResponse struct {
	Events []consensus.Event `json:"events"`
	Frozen bool              `json:"frozen"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type player struct {
	catalog.Player
	key kyber.Point
}

// Server hosts one session.
type Server struct {
	sessionID string
	parties   int
	catalog   *catalog.Catalog
	log       consensus.EventLog
	tokens    *tokenIssuer
	limiter   *partyLimiter
	logger    *slog.Logger
	rng       *rand.Rand
	maxWait   time.Duration
	tlsConfig *tls.Config
	server    *http.Server

	mu       sync.Mutex
	players  []player
	assigned []negotiation.Party
	roster   *consensus.Roster
	ready    chan struct{}
	outcome  *consensus.Outcome
	stage    string
	stageEnd time.Time
}

type ServerOption func(*Server)

// WithServerLogger sets the logger; the default is slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit limits every party to rps appends per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = newPartyLimiter(rps, burst) }
}

// WithRand sets the source used to shuffle players before role assignment.
func WithRand(rng *rand.Rand) ServerOption {
	return func(s *Server) { s.rng = rng }
}

// WithMaxWait caps the long-poll duration a reader may ask for.
func WithMaxWait(d time.Duration) ServerOption {
	return func(s *Server) { s.maxWait = d }
}

// WithTokenTTL sets how long join tokens stay valid.
func WithTokenTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.tokens.ttl = d }
}

// WithCertificate serves over TLS with cert.
func WithCertificate(cert tls.Certificate) ServerOption {
	return func(s *Server) {
		if s.tlsConfig == nil {
			s.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	}
}

// NewServer creates the host of session sessionID for n parties.
func NewServer(sessionID string, n int, cat *catalog.Catalog, log consensus.EventLog, secret []byte, opts ...ServerOption) (*Server, error) {
	if n < 2 {
		return nil, fmt.Errorf("network: a session needs at least 2 parties, got %d", n)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("network: empty token secret")
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		sessionID: sessionID,
		parties:   n,
		catalog:   cat,
		log:       log,
		tokens:    &tokenIssuer{secret: secret, sessionID: sessionID, ttl: 24 * time.Hour, now: time.Now},
		limiter:   newPartyLimiter(0, 0),
		logger:    slog.Default(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		maxWait:   30 * time.Second,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "host", "session", sessionID)
	return s, nil
}

// Handler returns the HTTP handler of the session API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/join", s.handleJoin)
	mux.HandleFunc("GET /v1/roster", s.handleRoster)
	mux.HandleFunc("GET /v1/role", s.authenticated(s.handleRole))
	mux.HandleFunc("POST /v1/events", s.authenticated(s.handleAppend))
	mux.HandleFunc("GET /v1/events", s.handleRead)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/outcome", s.handleOutcome)
	return mux
}

// Start serves the API on l until Close.
func (s *Server) Start(l net.Listener) {
	if s.tlsConfig != nil {
		l = tls.NewListener(l, s.tlsConfig)
	}
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		err := s.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("host stopped", "error", err)
		}
	}()
}

func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(context.Background())
}

// WaitReady blocks until all parties joined and returns their assigned
// parties (private) and the public roster.
func (s *Server) WaitReady(ctx context.Context) ([]negotiation.Party, consensus.Roster, error) {
	select {
	case <-ctx.Done():
		return nil, consensus.Roster{}, ctx.Err()
	case <-s.ready:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]negotiation.Party(nil), s.assigned...), *s.roster, nil
}

// SetStage publishes the current stage on /v1/status.
func (s *Server) SetStage(stage string, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage, s.stageEnd = stage, endsAt
}

// SetOutcome publishes the resolved outcome on /v1/outcome.
func (s *Server) SetOutcome(out consensus.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = &out
}

func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID, err := s.tokens.verify(bearer(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r, partyID)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed join request")
		return
	}
	var key kyber.Point
	if req.PublicKey != "" {
		k, err := consensus.DecodePublicKey(req.PublicKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed public key")
			return
		}
		key = k
	}

	s.mu.Lock()
	if len(s.players) >= s.parties {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "session is full")
		return
	}
	id := "p" + strconv.Itoa(len(s.players)+1)
	name := req.Name
	if name == "" {
		name = id
	}
	s.players = append(s.players, player{Player: catalog.Player{ID: id, Name: name}, key: key})
	var assignErr error
	if len(s.players) == s.parties {
		if assignErr = s.assignLocked(); assignErr != nil {
			s.players = s.players[:len(s.players)-1]
		}
	}
	s.mu.Unlock()

	if assignErr != nil {
		s.logger.Error("role assignment failed", "error", assignErr)
		writeError(w, http.StatusInternalServerError, "role assignment failed")
		return
	}
	token, err := s.tokens.issue(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("party joined", "party", id, "name", name, "signed", key != nil)
	writeJSON(w, http.StatusOK, JoinResponse{SessionID: s.sessionID, PartyID: id, Token: token})
}

func (s *Server) assignLocked() error {
	players := make([]catalog.Player, len(s.players))
	members := make([]consensus.Member, len(s.players))
	for i, p := range s.players {
		players[i] = p.Player
		members[i] = consensus.Member{ID: p.ID, Name: p.Name, PublicKey: p.key}
	}
	parties, err := s.catalog.Assign(players, s.rng)
	if err != nil {
		return err
	}
	roster, err := consensus.RosterFromParties(parties)
	if err != nil {
		return err
	}
	roster, err = consensus.NewRoster(roster.Agenda, members...)
	if err != nil {
		return err
	}
	s.assigned = parties
	s.roster = &roster
	close(s.ready)
	s.logger.Info("all parties joined, roles assigned", "parties", len(parties))
	return nil
}

func (s *Server) currentRoster() (consensus.Roster, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roster == nil {
		return consensus.Roster{}, false
	}
	return *s.roster, true
}

func (s *Server) handleRoster(w http.ResponseWriter, _ *http.Request) {
	roster, ok := s.currentRoster()
	if !ok {
		writeError(w, http.StatusConflict, "waiting for parties")
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

func (s *Server) handleRole(w http.ResponseWriter, _ *http.Request, partyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roster == nil {
		writeError(w, http.StatusConflict, "waiting for parties")
		return
	}
	for _, p := range s.assigned {
		if p.ID == partyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no role for party")
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request, partyID string) {
	if _, ok := s.currentRoster(); !ok {
		writeError(w, http.StatusConflict, "waiting for parties")
		return
	}
	var e consensus.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if e.AuthorID != partyID {
		writeError(w, http.StatusForbidden, "author does not match token")
		return
	}
	if !s.limiter.allow(partyID) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	seq, err := s.log.Append(r.Context(), e)
	if errors.Is(err, consensus.ErrLogFrozen) {
		writeError(w, http.StatusConflict, "log frozen")
		return
	}
	if err != nil {
		s.logger.Error("append failed", "party", partyID, "error", err)
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	s.logger.Debug("event appended", "party", partyID, "seq", seq, "type", e.Type)
	writeJSON(w, http.StatusOK, appendResponse{Seq: seq})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad after")
			return
		}
		after = n
	}
	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad wait")
			return
		}
		wait = min(d, s.maxWait)
	}

	ctx := r.Context()
	var wake <-chan struct{}
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
		// subscribe before reading so an append between the two is not missed
		ch, err := s.log.Subscribe(ctx)
		if err == nil {
			wake = ch
		}
	}
	for {
		events, err := s.log.Read(ctx, after)
		if err != nil && ctx.Err() == nil {
			writeError(w, http.StatusInternalServerError, "read failed")
			return
		}
		frozen, _ := s.log.Frozen(r.Context())
		if len(events) > 0 || wake == nil || frozen {
			writeJSON(w, http.StatusOK, eventsResponse{Events: events, Frozen: frozen})
			return
		}
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusOK, eventsResponse{Events: []consensus.Event{}, Frozen: frozen})
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	frozen, err := s.log.Frozen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status failed")
		return
	}
	s.mu.Lock()
	st := Status{
		SessionID:   s.sessionID,
		Parties:     s.parties,
		Joined:      len(s.players),
		Ready:       s.roster != nil,
		Frozen:      frozen,
		Resolved:    s.outcome != nil,
		Stage:       s.stage,
		StageEndsAt: s.stageEnd,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOutcome(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := s.outcome
	s.mu.Unlock()
	if out == nil {
		writeError(w, http.StatusConflict, "session not resolved")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
