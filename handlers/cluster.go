package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kmacoskey/haas/app"
	"github.com/kmacoskey/haas/middleware"
	"github.com/kmacoskey/haas/models"
	"github.com/kmacoskey/haas/services"
	log "github.com/sirupsen/logrus"
)

type clusterService interface {
	GetCluster(rc app.RequestContext, id string) (*models.Cluster, error)
	GetClusters(rc app.RequestContext) ([]models.Cluster, error)
	GetInstances(rc app.RequestContext, id string) ([]models.Instance, error)
	CreateCluster(rc app.RequestContext, spec models.ClusterSpec) (*models.Cluster, error)
	DeleteCluster(rc app.RequestContext, id string) (*models.Cluster, error)
}

type ClusterHandler struct {
	cs clusterService
}

func NewClusterHandler(cs clusterService) *ClusterHandler {
	return &ClusterHandler{cs}
}

// ClusterResponse wraps an accepted lifecycle request together with the
// request id that tags its log trail
type ClusterResponse struct {
	RequestId string          `json:"request_id"`
	Cluster   *models.Cluster `json:"cluster"`
}

// ClusterList represents a list of returned Clusters
type ClusterList struct {
	TotalCount int         `json:"total_count"`
	Clusters   interface{} `json:"clusters"`
}

// InstanceList represents a list of returned Instances
type InstanceList struct {
	TotalCount int         `json:"total_count"`
	Instances  interface{} `json:"instances"`
}

func ServeClusterResources(router *mux.Router, cs clusterService) {
	h := NewClusterHandler(cs)

	router.Handle("/cluster", app.Adapt(
		router,
		h.CreateCluster(),
		middleware.Logging(),
		app.WithRequestContext(),
	)).Methods("PUT")

	router.Handle("/cluster/{id}", app.Adapt(
		router,
		h.GetCluster(),
		middleware.Logging(),
		app.WithRequestContext(),
	)).Methods("GET")

	router.Handle("/clusters", app.Adapt(
		router,
		h.GetClusters(),
		middleware.Logging(),
		app.WithRequestContext(),
	)).Methods("GET")

	router.Handle("/cluster/{id}/instances", app.Adapt(
		router,
		h.GetInstances(),
		middleware.Logging(),
		app.WithRequestContext(),
	)).Methods("GET")

	router.Handle("/cluster/{id}", app.Adapt(
		router,
		h.DeleteCluster(),
		middleware.Logging(),
		app.WithRequestContext(),
	)).Methods("DELETE")

}

// Accept a cluster spec and begin provisioning a new Cluster
func (ch *ClusterHandler) CreateCluster() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(log.Fields{
				"topic": "haas",
				"event": "cluster_handler",
			})

			rc := app.GetRequestContext(r)

			spec := models.ClusterSpec{}
			if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				logger.Error("could not decode cluster spec in request")
				return
			}

			cluster, err := ch.cs.CreateCluster(rc, spec)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Error("could not create cluster for given spec")
				return
			}

			js, err := json.Marshal(ClusterResponse{RequestId: rc.RequestID(), Cluster: cluster})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Panic("failed to marshal cluster data for response")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write(js)
		})
	}
}

// Retrieve a single Cluster for a given id
func (ch *ClusterHandler) GetCluster() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(log.Fields{
				"topic": "haas",
				"event": "cluster_handler",
			})

			vars := mux.Vars(r)
			rc := app.GetRequestContext(r)

			cluster, err := ch.cs.GetCluster(rc, vars["id"])
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Error("could not retrieve cluster for given id in request")
				return
			}
			if cluster == nil {
				http.Error(w, "cluster not found", http.StatusNotFound)
				return
			}

			js, err := json.Marshal(cluster)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Panic("failed to marshal cluster data for response")
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(js)
		})
	}
}

// Retrieve a ClusterList of all Clusters
func (ch *ClusterHandler) GetClusters() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(log.Fields{
				"topic": "haas",
				"event": "cluster_handler",
			})

			rc := app.GetRequestContext(r)

			clusters, err := ch.cs.GetClusters(rc)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Error("could not retrieve clusters")
				return
			}

			var clusterlist = ClusterList{
				TotalCount: len(clusters),
				Clusters:   clusters,
			}

			js, err := json.Marshal(clusterlist)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Panic("failed to marshal cluster data for response")
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(js)
		})
	}
}

// Retrieve an InstanceList of the Instances provisioned for a given Cluster
func (ch *ClusterHandler) GetInstances() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(log.Fields{
				"topic": "haas",
				"event": "cluster_handler",
			})

			vars := mux.Vars(r)
			rc := app.GetRequestContext(r)

			instances, err := ch.cs.GetInstances(rc, vars["id"])
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Error("could not retrieve instances for given id in request")
				return
			}

			var instancelist = InstanceList{
				TotalCount: len(instances),
				Instances:  instances,
			}

			js, err := json.Marshal(instancelist)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Panic("failed to marshal instance data for response")
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(js)
		})
	}
}

// Begin tearing down the Cluster for a given id
func (ch *ClusterHandler) DeleteCluster() app.Adapter {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(log.Fields{
				"topic": "haas",
				"event": "cluster_handler",
			})

			vars := mux.Vars(r)
			rc := app.GetRequestContext(r)

			cluster, err := ch.cs.DeleteCluster(rc, vars["id"])
			if err != nil {
				switch err.Error() {
				case services.ErrorClusterNotFound:
					http.Error(w, err.Error(), http.StatusNotFound)
				case services.ErrorTeardownInProgress:
					http.Error(w, err.Error(), http.StatusConflict)
				default:
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
				logger.Error("could not delete cluster for given id in request")
				return
			}

			js, err := json.Marshal(ClusterResponse{RequestId: rc.RequestID(), Cluster: cluster})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				logger.Panic("failed to marshal cluster data for response")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write(js)
		})
	}
}
