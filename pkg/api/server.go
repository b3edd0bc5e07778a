package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crewlytics/crewsync/pkg/aggregate"
	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/lifecycle"
	"github.com/crewlytics/crewsync/pkg/observability"
	"github.com/crewlytics/crewsync/pkg/query"
	"github.com/crewlytics/crewsync/pkg/storage/postgres"
	"github.com/crewlytics/crewsync/pkg/sync"
)

// Server holds the wired components behind the HTTP surface
type Server struct {
	resolver  *identity.Resolver
	policy    *authz.Engine
	engine    *sync.Engine
	gateway   *query.Gateway
	lifecycle *lifecycle.Manager
	recorder  *audit.Recorder
	refresher *aggregate.Refresher
	periods   *postgres.PeriodStore
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewServer creates the API server
func NewServer(
	resolver *identity.Resolver,
	policy *authz.Engine,
	engine *sync.Engine,
	gateway *query.Gateway,
	lifecycleMgr *lifecycle.Manager,
	recorder *audit.Recorder,
	refresher *aggregate.Refresher,
	periods *postgres.PeriodStore,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		resolver:  resolver,
		policy:    policy,
		engine:    engine,
		gateway:   gateway,
		lifecycle: lifecycleMgr,
		recorder:  recorder,
		refresher: refresher,
		periods:   periods,
		logger:    logger,
		metrics:   metrics,
	}
}

// Router builds the route table. Auth wraps every data route; the
// token refresh endpoint stays outside so an expiring token can still
// reach it.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.MetricsMiddleware)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/refresh", s.handleTokenRefresh).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(NewAuthMiddleware(s.resolver).Handler)

	authed.HandleFunc("/periods", s.handleCreatePeriod).Methods(http.MethodPost)
	authed.HandleFunc("/periods/{periodID:[0-9]+}/{table}/sync", s.handleSync).Methods(http.MethodPost)

	authed.HandleFunc("/aggregates/refresh", s.handleRefresh).Methods(http.MethodPost)

	authed.HandleFunc("/audit", s.handleAuditSearch).Methods(http.MethodGet)
	authed.HandleFunc("/audit/export", s.handleAuditExport).Methods(http.MethodGet)

	authed.HandleFunc("/{table}", s.handleQuery).Methods(http.MethodGet)
	authed.HandleFunc("/{table}/{id:[0-9]+}", s.handleSoftDelete).Methods(http.MethodDelete)
	authed.HandleFunc("/{table}/{id:[0-9]+}/restore", s.handleRestore).Methods(http.MethodPost)

	return r
}
