package reaper

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kmacoskey/haas/models"
	log "github.com/sirupsen/logrus"
)

type ClusterReaper struct {
	interval string
	ticker   *time.Ticker
	service  clusterService
}

type clusterService interface {
	ClustersInTeardown(requestId string) ([]models.Cluster, error)
	Teardown(requestId string, clusterId string) error
}

func NewClusterReaper(interval string, cluster_service clusterService) (*ClusterReaper, error) {
	logger := log.WithFields(log.Fields{"package": "reaper", "event": "new_reaper", "request": nil})

	duration, err := time.ParseDuration(interval)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	reaper := &ClusterReaper{
		interval: interval,
		service:  cluster_service,
		ticker:   time.NewTicker(duration),
	}

	return reaper, nil
}

func (reaper *ClusterReaper) StartReaping() {
	logger := log.WithFields(log.Fields{"package": "reaper", "event": "reaping", "request": nil})

	go func() {
		for _ = range reaper.ticker.C {
			logger.Debug("resuming interrupted teardowns")
			err := reaper.ReapClusters()
			if err != nil {
				logger.Error(err)
			}
		}
	}()
}

func (reaper *ClusterReaper) ReapClusters() error {
	request_id := uuid.Must(uuid.NewRandom()).String()
	logger := log.WithFields(log.Fields{"package": "reaper", "event": "reap_clusters", "request": request_id})

	clusters, err := reaper.InterruptedClusters(request_id)
	if err != nil {
		logger.Error(err)
		return err
	}

	if len(clusters) == 0 {
		return nil
	}

	logger.Info(fmt.Sprintf("resuming teardown of %v cluster(s)", len(clusters)))

	for _, cluster := range clusters {
		err := reaper.ReapCluster(request_id, cluster.Id)
		if err != nil {
			logger.Error(err)
			return err
		}
	}

	return nil
}

func (reaper *ClusterReaper) InterruptedClusters(request_id string) ([]models.Cluster, error) {
	logger := log.WithFields(log.Fields{"package": "reaper", "event": "clusters_in_teardown", "request": request_id})

	clusters, err := reaper.service.ClustersInTeardown(request_id)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	return clusters, nil
}

func (reaper *ClusterReaper) ReapCluster(request_id string, id string) error {
	logger := log.WithFields(log.Fields{"package": "reaper", "event": "reap_cluster", "request": request_id})

	if len(id) == 0 {
		err := errors.New("cannot reap a cluster without specifying an id")
		logger.Error(err)
		return err
	}

	return reaper.service.Teardown(request_id, id)
}
