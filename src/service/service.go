package service

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectionnet/src/node"
)

// Service exposes a node's knowledge and metrics over HTTP.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")

	s.router.HandleFunc("/stats", s.makeHandler(s.GetStats)).Methods("GET")
	s.router.HandleFunc("/sap", s.makeHandler(s.GetSAP)).Methods("GET")
	s.router.HandleFunc("/chain", s.makeHandler(s.GetChain)).Methods("GET")
	s.router.HandleFunc("/members", s.makeHandler(s.GetMembers)).Methods("GET")
	s.router.HandleFunc("/contacts", s.makeHandler(s.GetContacts)).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{})).Methods("GET")
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router, to mount the API in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s.router)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.GetStats())
}

// GetSAP returns the current signed section authority.
func (s *Service) GetSAP(w http.ResponseWriter, r *http.Request) {
	sap := s.node.GetSAP()
	if sap == nil {
		http.Error(w, "section unknown", http.StatusNotFound)
		return
	}
	s.writeJSON(w, sap)
}

// GetChain ...
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.GetChain())
}

// GetMembers ...
func (s *Service) GetMembers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.GetMembers())
}

// GetContacts returns the contacts a candidate needs to join.
func (s *Service) GetContacts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.GetContacts())
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}
