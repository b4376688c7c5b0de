package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmacoskey/haas/app"
	"github.com/kmacoskey/haas/models"
	"github.com/kmacoskey/haas/poll"
	log "github.com/sirupsen/logrus"
)

const (
	ErrorClusterNotFound    = "cannot teardown a cluster that does not exist"
	ErrorTeardownInProgress = "cluster teardown is already in progress"
)

const (
	// sentinelCommand reads the file a node's startup script writes once
	// bootstrap has finished.
	sentinelCommand = "cat /var/log/STARTUP_SCRIPT_DONE"
	successToken    = "success"

	scratchDiskId        = "ephemeral-disk-0"
	persistentDiskSizeGb = 100

	storageScope = "https://www.googleapis.com/auth/devstorage.full_control"

	defaultPrefix     = "managed"
	defaultNumWorkers = 5
)

// ComputeProvider is the slice of the compute API the cluster lifecycle
// drives, bound to a single project and zone.
type ComputeProvider interface {
	CreateInstance(config models.InstanceConfig) error
	GetInstance(name string) (*models.InstanceDescriptor, error)
	ListInstances(filter string) ([]models.InstanceDescriptor, error)
	DeleteInstance(name string) error
	CreateDisk(name string, sizeGb int64, wait bool) error
	GetDisk(name string) (*models.DiskDescriptor, error)
}

// ProviderFactory returns a ComputeProvider for the given project and zone.
type ProviderFactory func(project string, zone string) (ComputeProvider, error)

// CommandChannel runs a command on an instance through its startup agent and
// returns the received status code and body. An error means no response was
// received at all.
type CommandChannel interface {
	Send(address string, command string, key string) (int, string, error)
}

type clusterDao interface {
	CreateCluster(db *sqlx.DB, cluster *models.Cluster) (*models.Cluster, error)
	GetCluster(db *sqlx.DB, id string) (*models.Cluster, error)
	GetClusters(db *sqlx.DB) ([]models.Cluster, error)
	ClustersByStatus(db *sqlx.DB, status models.ClusterStatus) ([]models.Cluster, error)
	UpdateCluster(db *sqlx.DB, cluster *models.Cluster) (*models.Cluster, error)
	DeleteCluster(db *sqlx.DB, id string) error
	CreateInstance(db *sqlx.DB, instance *models.Instance) (*models.Instance, error)
	GetInstance(db *sqlx.DB, clusterId string, name string) (*models.Instance, error)
	InstancesForCluster(db *sqlx.DB, clusterId string) ([]models.Instance, error)
	UpdateInstance(db *sqlx.DB, instance *models.Instance) (*models.Instance, error)
	DeleteInstances(db *sqlx.DB, clusterId string) error
}

type ClusterService struct {
	dao       clusterDao
	providers ProviderFactory
	channel   CommandChannel
	db        *sqlx.DB
	storage   string

	// Polling budgets for the lifecycle phases. Exposed so they can be
	// tuned, and shrunk under test.
	IPAddressPoll poll.Policy
	WarmUpPoll    poll.Policy
	ShutdownPoll  poll.Policy

	// TeardownPasses bounds the discovery/delete/confirm loop of Teardown.
	TeardownPasses int
}

func NewClusterService(dao clusterDao, providers ProviderFactory, channel CommandChannel, db *sqlx.DB, storage string) *ClusterService {
	return &ClusterService{
		dao:            dao,
		providers:      providers,
		channel:        channel,
		db:             db,
		storage:        storage,
		IPAddressPoll:  poll.Policy{Interval: 5 * time.Second, MaxAttempts: 60},
		WarmUpPoll:     poll.Policy{Interval: 15 * time.Second, MaxAttempts: 20},
		ShutdownPoll:   poll.Policy{Interval: 5 * time.Second, MaxAttempts: 60},
		TeardownPasses: 5,
	}
}

func (s *ClusterService) GetCluster(rc app.RequestContext, id string) (*models.Cluster, error) {
	cluster, err := s.dao.GetCluster(s.db, id)
	return cluster, err
}

func (s *ClusterService) GetClusters(rc app.RequestContext) ([]models.Cluster, error) {
	clusters, err := s.dao.GetClusters(s.db)
	return clusters, err
}

func (s *ClusterService) GetInstances(rc app.RequestContext, id string) ([]models.Instance, error) {
	instances, err := s.dao.InstancesForCluster(s.db, id)
	return instances, err
}

// CreateCluster persists a new cluster record and starts its lifecycle in the
// background. The returned record carries the persisted NEW status; progress
// is observable through GetCluster.
func (s *ClusterService) CreateCluster(rc app.RequestContext, spec models.ClusterSpec) (*models.Cluster, error) {
	logger := log.WithFields(log.Fields{
		"topic":   "haas",
		"package": "services",
		"event":   "create_cluster",
		"request": rc.RequestID(),
	})

	logger.Debug("service request to create cluster")

	if spec.Prefix == "" {
		spec.Prefix = defaultPrefix
	}
	if spec.NumWorkers == 0 {
		spec.NumWorkers = defaultNumWorkers
	}

	cluster, err := s.dao.CreateCluster(s.db, &models.Cluster{
		Id:          uuid.Must(uuid.NewRandom()).String(),
		ClusterSpec: spec,
		Status:      models.ClusterStatusNew,
	})
	if err != nil {
		logger.Error(fmt.Sprintf("failed to persist new cluster: %v", err))
		return nil, err
	}

	logger.Debug("cluster set to provision")
	go s.StartCluster(rc.RequestID(), cluster.Id, spec)

	return cluster, nil
}

// DeleteCluster marks the cluster for teardown and runs the teardown in the
// background. The returned record carries the persisted TEARING_DOWN status.
func (s *ClusterService) DeleteCluster(rc app.RequestContext, id string) (*models.Cluster, error) {
	logger := log.WithFields(log.Fields{
		"topic":   "haas",
		"package": "services",
		"event":   "delete_cluster",
		"request": rc.RequestID(),
	})

	logger.Debug("service request to teardown cluster")

	cluster, err := s.dao.GetCluster(s.db, id)
	if err != nil {
		logger.Error(fmt.Sprintf("cluster teardown failed: %v", err))
		return nil, err
	}
	if cluster == nil {
		logger.Debug("no cluster to teardown")
		return nil, errors.New(ErrorClusterNotFound)
	}
	if cluster.Status == models.ClusterStatusTearingDown {
		logger.Debug("cluster teardown already in progress")
		return nil, errors.New(ErrorTeardownInProgress)
	}

	if err := s.transition(cluster, models.ClusterStatusTearingDown); err != nil {
		logger.Error(fmt.Sprintf("failed to update cluster status: %v", err))
		return nil, err
	}

	logger.Debug("cluster set to teardown")
	go s.Teardown(rc.RequestID(), cluster.Id)

	return cluster, nil
}

// ClustersInTeardown lists clusters whose teardown was requested but has not
// finished. ERROR clusters are left alone: reclaiming a failed start is an
// operator decision.
func (s *ClusterService) ClustersInTeardown(requestId string) ([]models.Cluster, error) {
	logger := log.WithFields(log.Fields{
		"topic":   "haas",
		"package": "services",
		"event":   "clusters_in_teardown",
		"request": requestId,
	})

	clusters, err := s.dao.ClustersByStatus(s.db, models.ClusterStatusTearingDown)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to list clusters in teardown: %v", err))
		return nil, err
	}

	return clusters, nil
}

// StartCluster drives a cluster to READY: one master and NumWorkers workers
// are created sequentially, every node must be assigned an external address,
// and the master must publish the startup sentinel. Every transition and
// every discovered address is persisted before the lifecycle proceeds, so an
// interrupted run leaves an inspectable record. A terminal failure is
// persisted as status ERROR with the failure kind and message; nothing
// already created is rolled back.
func (s *ClusterService) StartCluster(requestId string, clusterId string, args models.ClusterSpec) error {
	logger := log.WithFields(log.Fields{
		"topic":   "haas",
		"package": "services",
		"event":   "start_cluster",
		"request": requestId,
	})

	record, err := s.dao.GetCluster(s.db, clusterId)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load cluster record: %v", err))
		return err
	}

	// Fields of a persisted record win over caller arguments, wholesale.
	spec := models.MergeSpec(record, args)

	cluster := record
	if cluster == nil {
		cluster, err = s.dao.CreateCluster(s.db, &models.Cluster{
			Id:          clusterId,
			ClusterSpec: spec,
			Status:      models.ClusterStatusNew,
		})
		if err != nil {
			logger.Error(fmt.Sprintf("failed to persist new cluster: %v", err))
			return err
		}
	}

	if err := s.startCluster(logger, cluster); err != nil {
		logger.Error(fmt.Sprintf("cluster start failed: %v", err))
		cluster.Status = models.ClusterStatusError
		cluster.Message = err.Error()
		if _, updateErr := s.dao.UpdateCluster(s.db, cluster); updateErr != nil {
			logger.Error(fmt.Sprintf("failed to record cluster failure: %v", updateErr))
		}
		return err
	}

	logger.Info("cluster is ready")
	return nil
}

func (s *ClusterService) startCluster(logger *log.Entry, cluster *models.Cluster) error {
	provider, err := s.providers(cluster.Project, cluster.Zone)
	if err != nil {
		return models.NewProvisioningError(fmt.Sprintf("could not build compute client: %s", err))
	}

	if err := s.transition(cluster, models.ClusterStatusProvisioning); err != nil {
		return err
	}

	logger.Info(fmt.Sprintf("provisioning cluster %s with %d workers", cluster.Id, cluster.NumWorkers))

	if err := s.provisionInstance(logger, provider, cluster, cluster.MasterInstanceName(), models.RoleMaster); err != nil {
		return err
	}
	for i := 0; i < cluster.NumWorkers; i++ {
		if err := s.provisionInstance(logger, provider, cluster, cluster.WorkerInstanceName(i), models.RoleWorker); err != nil {
			return err
		}
	}

	if err := s.waitForAddresses(logger, provider, cluster); err != nil {
		return err
	}

	if err := s.transition(cluster, models.ClusterStatusWarmingUp); err != nil {
		return err
	}

	if err := s.waitForMaster(logger, cluster); err != nil {
		return err
	}

	return s.transition(cluster, models.ClusterStatusReady)
}

// provisionInstance creates a single instance and persists its record. The
// role is validated before anything is asked of the provider.
func (s *ClusterService) provisionInstance(logger *log.Entry, provider ComputeProvider, cluster *models.Cluster, name string, role models.Role) error {
	// With a persistent disk the instance keeps the plain machine type and
	// mounts the disk; without one it uses the scratch-disk variant.
	machinetype := cluster.ScratchMachineType()
	diskId := scratchDiskId
	persistentDisk := ""
	if cluster.PersistentDisk {
		persistentDisk = models.PersistentDiskName(name)
		machinetype = cluster.MachineType
		diskId = persistentDisk
	}

	rpckey := uuid.Must(uuid.NewRandom()).String()

	metadata, err := cluster.InstanceMetadata(role, rpckey, diskId, s.tmpCloudStorage())
	if err != nil {
		return err
	}

	if persistentDisk != "" {
		if err := s.ensureDisk(logger, provider, persistentDisk); err != nil {
			return err
		}
	}

	logger.Info(fmt.Sprintf("starting instance %s", name))

	err = provider.CreateInstance(models.InstanceConfig{
		Name:           name,
		MachineType:    machinetype,
		Image:          cluster.Image,
		Network:        cluster.Network,
		PersistentDisk: persistentDisk,
		Scopes:         []string{storageScope},
		Metadata:       metadata,
	})
	if err != nil {
		return models.NewProvisioningError(fmt.Sprintf("failed to start instance %s: %s", name, err))
	}

	instance, err := s.dao.CreateInstance(s.db, &models.Instance{
		ClusterId: cluster.Id,
		Name:      name,
		Role:      role,
		RpcKey:    rpckey,
	})
	if err != nil {
		return err
	}

	if role == models.RoleMaster {
		cluster.MasterInstance = instance.Name
		updated, err := s.dao.UpdateCluster(s.db, cluster)
		if err != nil {
			return err
		}
		*cluster = *updated
	}

	return nil
}

// ensureDisk creates the named persistent disk unless it already exists.
func (s *ClusterService) ensureDisk(logger *log.Entry, provider ComputeProvider, name string) error {
	disk, err := provider.GetDisk(name)
	if err != nil {
		return models.NewProvisioningError(fmt.Sprintf("could not look up persistent disk %s: %s", name, err))
	}
	if disk != nil {
		logger.Info(fmt.Sprintf("using existing persistent disk %s", name))
		return nil
	}

	logger.Info(fmt.Sprintf("creating persistent disk %s", name))
	if err := provider.CreateDisk(name, persistentDiskSizeGb, true); err != nil {
		return models.NewProvisioningError(fmt.Sprintf("could not create persistent disk %s: %s", name, err))
	}

	return nil
}

// waitForAddresses polls the provider until every instance of the cluster has
// an external address, persisting each one as it is discovered.
func (s *ClusterService) waitForAddresses(logger *log.Entry, provider ComputeProvider, cluster *models.Cluster) error {
	instances, err := s.dao.InstancesForCluster(s.db, cluster.Id)
	if err != nil {
		return err
	}

	for i := range instances {
		if err := s.waitForAddress(logger, provider, &instances[i]); err != nil {
			return err
		}
	}

	return nil
}

func (s *ClusterService) waitForAddress(logger *log.Entry, provider ComputeProvider, instance *models.Instance) error {
	var address string

	err := s.IPAddressPoll.Wait(func() (bool, error) {
		descriptor, err := provider.GetInstance(instance.Name)
		if err != nil {
			// A provider hiccup consumes the attempt like any other
			// not-ready answer.
			logger.Debug(fmt.Sprintf("could not describe instance %s: %v", instance.Name, err))
			return false, nil
		}
		if descriptor == nil || descriptor.ExternalIp == "" {
			return false, nil
		}
		address = descriptor.ExternalIp
		return true, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return models.NewTimeoutError(fmt.Sprintf("external address assignment timed out for %s", instance.Name))
	}
	if err != nil {
		return err
	}

	instance.ExternalIp = address
	updated, err := s.dao.UpdateInstance(s.db, instance)
	if err != nil {
		return err
	}
	*instance = *updated

	logger.Info(fmt.Sprintf("instance %s has external address %s", instance.Name, instance.ExternalIp))
	return nil
}

// waitForMaster polls the sentinel file on the master until the startup
// script reports success. A received response without the success token is a
// definitive failure and is not retried. Connection failures are expected
// while the agent is still coming up and consume attempts instead.
func (s *ClusterService) waitForMaster(logger *log.Entry, cluster *models.Cluster) error {
	master, err := s.dao.GetInstance(s.db, cluster.Id, cluster.MasterInstanceName())
	if err != nil {
		return err
	}
	if master == nil {
		return models.NewProvisioningError(fmt.Sprintf("no master instance recorded for cluster %s", cluster.Id))
	}

	err = s.WarmUpPoll.Wait(func() (bool, error) {
		status, body, err := s.channel.Send(master.ExternalIp, sentinelCommand, master.RpcKey)
		if err != nil {
			return false, nil
		}
		if status == http.StatusOK && strings.Contains(body, successToken) {
			return true, nil
		}
		logger.Error(fmt.Sprintf("sentinel response from %s: %s", master.Name, body))
		return false, models.NewRemoteExecutionError("hadoop master failed to start")
	})
	if errors.Is(err, poll.ErrExhausted) {
		return models.NewTimeoutError("hadoop master set up timed out")
	}

	return err
}

// Teardown deletes every instance whose name matches the cluster's filter
// and, once the provider lists none, removes the cluster's records. Listing
// is eventually consistent and deletes can take more than one round to stick,
// so discovery repeats up to TeardownPasses times. Exhausting the passes
// leaves the cluster TEARING_DOWN for a later resume and returns a teardown
// incomplete error.
func (s *ClusterService) Teardown(requestId string, clusterId string) error {
	logger := log.WithFields(log.Fields{
		"topic":   "haas",
		"package": "services",
		"event":   "teardown",
		"request": requestId,
	})

	cluster, err := s.dao.GetCluster(s.db, clusterId)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load cluster record: %v", err))
		return err
	}
	if cluster == nil {
		logger.Debug("no cluster to teardown")
		return errors.New(ErrorClusterNotFound)
	}

	// Re-entering TEARING_DOWN is how an interrupted teardown resumes.
	if err := s.transition(cluster, models.ClusterStatusTearingDown); err != nil {
		logger.Error(fmt.Sprintf("failed to update cluster status: %v", err))
		return err
	}

	provider, err := s.providers(cluster.Project, cluster.Zone)
	if err != nil {
		logger.Error(fmt.Sprintf("could not build compute client: %v", err))
		return err
	}

	for pass := 0; pass < s.TeardownPasses; pass++ {
		descriptors, err := provider.ListInstances(cluster.InstanceFilter())
		if err != nil {
			// A listing hiccup consumes the pass rather than aborting: the
			// next pass sees whatever the provider reports then.
			logger.Error(fmt.Sprintf("failed to list cluster instances: %v", err))
			continue
		}

		if len(descriptors) == 0 {
			return s.removeClusterRecords(logger, cluster)
		}

		names := make([]string, 0, len(descriptors))
		for _, descriptor := range descriptors {
			names = append(names, descriptor.Name)
		}

		for _, name := range names {
			logger.Info(fmt.Sprintf("shutting down %s", name))
			if err := provider.DeleteInstance(name); err != nil {
				logger.Error(fmt.Sprintf("failed to delete instance %s: %v", name, err))
			}
		}

		// Wait for the deletes to stick, narrowing to whatever still
		// answers. Exhaustion is not fatal here: the next pass re-lists.
		err = s.ShutdownPoll.Wait(func() (bool, error) {
			stillAlive := []string{}
			for _, name := range names {
				descriptor, err := provider.GetInstance(name)
				if err != nil || descriptor != nil {
					stillAlive = append(stillAlive, name)
				}
			}
			names = stillAlive
			return len(names) == 0, nil
		})
		if err != nil && !errors.Is(err, poll.ErrExhausted) {
			return err
		}
	}

	teardownErr := models.NewTeardownIncompleteError(fmt.Sprintf("instances still matched after %d teardown passes", s.TeardownPasses))

	cluster.Message = teardownErr.Error()
	if _, err := s.dao.UpdateCluster(s.db, cluster); err != nil {
		logger.Error(fmt.Sprintf("failed to record incomplete teardown: %v", err))
	}

	logger.Error(teardownErr.Error())
	return teardownErr
}

// removeClusterRecords deletes the instance records and then the cluster
// record itself. The terminal DELETED status only ever exists on this
// in-memory copy: the record is gone.
func (s *ClusterService) removeClusterRecords(logger *log.Entry, cluster *models.Cluster) error {
	if err := s.dao.DeleteInstances(s.db, cluster.Id); err != nil {
		return err
	}
	if err := s.dao.DeleteCluster(s.db, cluster.Id); err != nil {
		return err
	}

	cluster.Status = models.ClusterStatusDeleted

	logger.Info("cluster teardown complete")
	return nil
}

// transition moves the cluster to the next status and persists it. The
// transition table is authoritative: an unlisted move is refused.
func (s *ClusterService) transition(cluster *models.Cluster, to models.ClusterStatus) error {
	if !cluster.Status.CanTransition(to) {
		return fmt.Errorf("cannot transition cluster %s from %s to %s", cluster.Id, cluster.Status, to)
	}

	cluster.Status = to
	updated, err := s.dao.UpdateCluster(s.db, cluster)
	if err != nil {
		return err
	}
	*cluster = *updated

	return nil
}

func (s *ClusterService) tmpCloudStorage() string {
	return s.storage + "/hadoop"
}
