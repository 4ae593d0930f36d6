// Package http exposes the bridge to the host: health probes, metrics, the
// state document and the command catalogue.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/auth"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/command"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/credential"
	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
	"github.com/autopeer-io/fordpass-bridge/internal/pkg/metrics"
	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// RequestIDHeader carries the id assigned to every API request.
const RequestIDHeader = "X-Request-Id"

const maxBodyBytes = 1 << 20

// Synchronizer is the state side of a bridge session.
type Synchronizer interface {
	State() string
	Stale() bool
	Document() *state.Document
	Refresh(ctx context.Context, force bool) (*state.Node, error)
}

// Credentials is the credential side of a bridge session.
type Credentials interface {
	ReauthRequired() bool
	CommError() bool
	EnsureValid(ctx context.Context) error
	Login(ctx context.Context, idpToken string) error
	AcknowledgeReauth(ctx context.Context, rec *credential.Record) error
	ClearTokens(ctx context.Context) error
}

// Commands runs catalogue operations.
type Commands interface {
	Dispatch(ctx context.Context, name string, params *state.Node) (command.Outcome, error)
	DeleteMessages(ctx context.Context, ids []string) error
}

// StateResponse is the body of GET /api/v1/state.
type StateResponse struct {
	Connection     string      `json:"connection"`
	Stale          bool        `json:"stale"`
	ReauthRequired bool        `json:"reauthRequired"`
	CommError      bool        `json:"commError"`
	Document       *state.Node `json:"document"`
}

// CommandResponse is the body of POST /api/v1/commands/{name}.
type CommandResponse struct {
	Success bool            `json:"success"`
	Outcome command.Outcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
}

// ReauthRequest installs fresh credential material. Exactly one field is set.
type ReauthRequest struct {
	IDPToken     string `json:"idpToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// DeleteMessagesRequest is the body of POST /api/v1/messages/delete.
type DeleteMessagesRequest struct {
	IDs []string `json:"ids"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API binds the host routes to one bridge session.
type API struct {
	sync  Synchronizer
	creds Credentials
	cmds  Commands
	log   log.Logger
}

func NewAPI(sync Synchronizer, creds Credentials, cmds Commands, logger log.Logger) *API {
	if logger == nil {
		logger = log.WithName("api")
	}
	return &API{sync: sync, creds: creds, cmds: cmds, log: logger}
}

// Router returns the route table of the API.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.instrument)

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", a.getState).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", a.refresh).Methods(http.MethodPost)
	v1.HandleFunc("/commands", a.listCommands).Methods(http.MethodGet)
	v1.HandleFunc("/commands/{name}", a.runCommand).Methods(http.MethodPost)
	v1.HandleFunc("/messages/delete", a.deleteMessages).Methods(http.MethodPost)
	v1.HandleFunc("/auth/reauth", a.reauth).Methods(http.MethodPost)
	v1.HandleFunc("/auth/clear", a.clearTokens).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument assigns a request id, logs the request and counts it.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		logger := a.log.WithValues("requestID", id, "method", r.Method, "route", route)
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(log.NewContext(r.Context(), logger)))

		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		logger.Debug("Handled request", "code", rec.code, "duration", time.Since(start))
	})
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) readyz(w http.ResponseWriter, _ *http.Request) {
	switch {
	case a.creds.ReauthRequired():
		http.Error(w, "re-authentication required", http.StatusServiceUnavailable)
	case a.sync.Document().Empty():
		http.Error(w, "no state yet", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func (a *API) stateResponse(doc *state.Node) StateResponse {
	if doc == nil {
		doc = a.sync.Document().Snapshot()
	}
	return StateResponse{
		Connection:     a.sync.State(),
		Stale:          a.sync.Stale(),
		ReauthRequired: a.creds.ReauthRequired(),
		CommError:      a.creds.CommError(),
		Document:       doc,
	}
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, a.stateResponse(nil))
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	doc, err := a.sync.Refresh(r.Context(), force)
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, a.stateResponse(doc))
}

func (a *API) listCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string][]string{"commands": command.Names()})
}

func (a *API) runCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	params := state.Object()
	if err := decodeBody(r, &params); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	out, err := a.cmds.Dispatch(r.Context(), name, params)
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		writeError(r.Context(), w, http.StatusNotFound, err)
		return
	case errors.Is(err, command.ErrInvalidArgument):
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	resp := CommandResponse{Success: err == nil && out.Result == command.Succeeded, Outcome: out}
	if err != nil {
		resp.Error = err.Error()
		log.FromContext(r.Context()).Info("Command did not succeed", "command", name, "result", string(out.Result), "error", err.Error())
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (a *API) deleteMessages(w http.ResponseWriter, r *http.Request) {
	var req DeleteMessagesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	if err := a.cmds.DeleteMessages(r.Context(), req.IDs); err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) reauth(w http.ResponseWriter, r *http.Request) {
	var req ReauthRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case req.IDPToken != "" && req.RefreshToken != "":
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("set either idpToken or refreshToken, not both"))
		return
	case req.IDPToken != "":
		err = a.creds.Login(r.Context(), req.IDPToken)
	case req.RefreshToken != "":
		rec := &credential.Record{Primary: credential.TokenPair{Refresh: req.RefreshToken}}
		if err = a.creds.AcknowledgeReauth(r.Context(), rec); err == nil {
			err = a.creds.EnsureValid(r.Context())
		}
	default:
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("idpToken or refreshToken is required"))
		return
	}
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}

	log.FromContext(r.Context()).Info("Credentials replaced through the API")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearTokens(w http.ResponseWriter, r *http.Request) {
	if err := a.creds.ClearTokens(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps session errors onto response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrReauthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, command.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Error(err, "Failed to write response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, err error) {
	writeJSON(ctx, w, code, errorResponse{Error: err.Error()})
}
