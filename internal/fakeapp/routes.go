package fakeapp

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Location is the body of the location endpoint.
type Location struct {
	DeploymentModel string `json:"deployment_model"`
	Location        string `json:"location"`
	Hostname        string `json:"hostname"`
	WSHostname      string `json:"ws_hostname"`
}

type httpError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodGet)

	app := r.PathPrefix("/api/client/v2.0/app/{appID}").Subrouter()
	app.Use(s.requireApp)
	app.HandleFunc("/location", s.handleLocation).Methods(http.MethodGet)
	app.HandleFunc("/watch/{database}/{collection}", s.handleWatch).Methods(http.MethodGet)

	return r
}

func (s *Server) requireApp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := mux.Vars(r)["appID"]; id != s.cfg.AppID {
			writeJSON(w, http.StatusNotFound, httpError{
				Error:     "cannot find app using Client App ID '" + id + "'",
				ErrorCode: "AppNotFound",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = s.Address()
	}
	writeJSON(w, http.StatusOK, Location{
		DeploymentModel: "GLOBAL",
		Location:        "local",
		Hostname:        "http://" + host,
		WSHostname:      "ws://" + host,
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	go socket.ReadLoop()
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if _, ok := s.userForAccessToken(token); !ok {
		writeJSON(w, http.StatusUnauthorized, httpError{Error: "invalid session", ErrorCode: CodeInvalidSession})
		return
	}

	vars := mux.Vars(r)
	channel := s.watchChannel(vars["database"], vars["collection"])
	s.events.Handler(channel).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
