package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/terrapool/pkg/labels"
	"github.com/cuemby/terrapool/pkg/log"
	"github.com/cuemby/terrapool/pkg/metrics"
	"github.com/cuemby/terrapool/pkg/registry"
	"github.com/cuemby/terrapool/pkg/scheduler"
	"github.com/cuemby/terrapool/pkg/security"
	"github.com/cuemby/terrapool/pkg/storage"
	"github.com/cuemby/terrapool/pkg/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Provisioner starts provisioning attempts
type Provisioner interface {
	RequestCapacity(ctx context.Context, pool string, label labels.Expression, excess int) ([]*scheduler.PlannedAgent, error)
}

// Agents is the agent registry as seen by the API
type Agents interface {
	List() []*types.Agent
	Get(name string) (*types.Agent, error)
	Terminate(ctx context.Context, name string) error
	MarkOnline(name string) error
	RecordActivity(name string, busy, completed bool) error
}

// SecretVerifier checks agent connection secrets
type SecretVerifier interface {
	Verify(name, secret string) bool
}

// Credentials manages stored credentials
type Credentials interface {
	Add(cred *types.Credential) error
	Remove(id string) error
	List() ([]*types.Credential, error)
}

// Options holds the server dependencies. Store is only used for readiness.
type Options struct {
	Provisioner Provisioner
	Agents      Agents
	Secrets     SecretVerifier
	Credentials Credentials
	Store       storage.Store
}

// Server serves the terrapool HTTP API
type Server struct {
	opts   Options
	mux    *http.ServeMux
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}

	s.registerHealth()
	s.mux.HandleFunc("POST /v1/pools/{pool}/provision", s.provision)
	s.mux.HandleFunc("GET /v1/agents", s.listAgents)
	s.mux.HandleFunc("GET /v1/agents/{name}", s.getAgent)
	s.mux.HandleFunc("DELETE /v1/agents/{name}", s.terminateAgent)
	s.mux.HandleFunc("POST /v1/agents/{name}/connect", s.connectAgent)
	s.mux.HandleFunc("POST /v1/agents/{name}/activity", s.agentActivity)
	s.mux.HandleFunc("GET /v1/credentials", s.listCredentials)
	s.mux.HandleFunc("POST /v1/credentials", s.addCredential)
	s.mux.HandleFunc("DELETE /v1/credentials/{id}", s.removeCredential)

	return s
}

// Handler returns the instrumented HTTP handler
func (s *Server) Handler() http.Handler {
	return Chain(s.mux, Recover(s.logger), Instrument())
}

// Start listens on addr and serves until Stop. It returns once the listener
// is bound; serve errors are logged.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s.http = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server stopped")
			metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		}
	}()

	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")
	return lis.Addr(), nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Excess <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("excess must be positive"))
		return
	}

	label, err := labels.Parse(req.Label)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	planned, err := s.opts.Provisioner.RequestCapacity(r.Context(), r.PathValue("pool"), label, req.Excess)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := ProvisionResponse{Agents: make([]PlannedAgent, 0, len(planned))}
	for _, p := range planned {
		resp.Agents = append(resp.Agents, PlannedAgent{
			Name:      p.Name,
			Pool:      p.Pool,
			Template:  p.Template,
			Executors: p.Executors,
		})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	pool := r.URL.Query().Get("pool")

	resp := ListAgentsResponse{Agents: []Agent{}}
	for _, rec := range s.opts.Agents.List() {
		if pool != "" && rec.Pool != pool {
			continue
		}
		resp.Agents = append(resp.Agents, agentFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.opts.Agents.Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, agentFromRecord(rec))
}

func (s *Server) terminateAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Agents.Terminate(context.WithoutCancel(r.Context()), name); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) connectAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req ConnectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.opts.Secrets.Verify(name, req.Secret) {
		s.logger.Warn().Str("agent", name).Msg("Rejected agent connection with a bad secret")
		s.writeError(w, http.StatusUnauthorized, errors.New("invalid agent secret"))
		return
	}

	if err := s.opts.Agents.MarkOnline(name); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) agentActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.opts.Agents.RecordActivity(r.PathValue("name"), req.Busy, req.Completed); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.opts.Credentials.List()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := ListCredentialsResponse{Credentials: make([]Credential, 0, len(creds))}
	for _, c := range creds {
		resp.Credentials = append(resp.Credentials, Credential{
			ID:          c.ID,
			Kind:        c.Kind,
			Description: c.Description,
			Username:    c.Username,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) addCredential(w http.ResponseWriter, r *http.Request) {
	var req Credential
	if !s.decode(w, r, &req) {
		return
	}

	err := s.opts.Credentials.Add(&types.Credential{
		ID:          req.ID,
		Kind:        req.Kind,
		Description: req.Description,
		Username:    req.Username,
		Password:    req.Password,
		Secret:      req.Secret,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) removeCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Credentials.Remove(r.PathValue("id")); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownPool),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNotProvisioned):
		return http.StatusConflict
	case errors.Is(err, security.ErrInvalidCredential):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
