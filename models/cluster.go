package models

import (
	"fmt"
	"strconv"
)

const (
	masterNameSuffix  = "hadoop-master"
	workerNameCore    = "hadoop-worker"
	startupScriptName = "startup-script.sh"
	hadoopPatchName   = "hadoop-1.2.1.patch"

	persistentDiskSuffix = "-pd"
)

// ClusterStatus is the persisted lifecycle state of a cluster. DELETED is
// only ever observed in memory: reaching it deletes the record itself.
type ClusterStatus string

const (
	ClusterStatusNew          ClusterStatus = "NEW"
	ClusterStatusProvisioning ClusterStatus = "PROVISIONING"
	ClusterStatusWarmingUp    ClusterStatus = "WARMING_UP"
	ClusterStatusReady        ClusterStatus = "READY"
	ClusterStatusError        ClusterStatus = "ERROR"
	ClusterStatusTearingDown  ClusterStatus = "TEARING_DOWN"
	ClusterStatusDeleted      ClusterStatus = "DELETED"
)

// Teardown is accepted from every live status so that operators can reclaim
// a cluster whose lifecycle died mid-flight. Re-entering TEARING_DOWN is how
// an interrupted teardown resumes.
var clusterStatusTransitions = map[ClusterStatus][]ClusterStatus{
	ClusterStatusNew:          {ClusterStatusProvisioning, ClusterStatusTearingDown},
	ClusterStatusProvisioning: {ClusterStatusWarmingUp, ClusterStatusError, ClusterStatusTearingDown},
	ClusterStatusWarmingUp:    {ClusterStatusReady, ClusterStatusError, ClusterStatusTearingDown},
	ClusterStatusReady:        {ClusterStatusTearingDown},
	ClusterStatusError:        {ClusterStatusTearingDown},
	ClusterStatusTearingDown:  {ClusterStatusTearingDown, ClusterStatusDeleted},
	ClusterStatusDeleted:      {},
}

// CanTransition reports whether the status may move to the given next status.
func (s ClusterStatus) CanTransition(to ClusterStatus) bool {
	for _, next := range clusterStatusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ClusterSpec is the resolved configuration of a cluster. It is fixed once
// when an orchestration starts and never re-resolved mid-lifecycle.
type ClusterSpec struct {
	Name           string `json:"name" db:"name"`
	Project        string `json:"project" db:"project"`
	Prefix         string `json:"prefix" db:"prefix"`
	Zone           string `json:"zone" db:"zone"`
	MachineType    string `json:"machinetype" db:"machinetype"`
	Image          string `json:"image" db:"image"`
	Network        string `json:"network" db:"network"`
	NumWorkers     int    `json:"num_workers" db:"num_workers"`
	CustomCommand  string `json:"custom_command" db:"custom_command"`
	PersistentDisk bool   `json:"persistent_disk" db:"persistent_disk"`
}

type Cluster struct {
	Id string `json:"id" db:"id"`
	ClusterSpec
	Status         ClusterStatus `json:"status" db:"status"`
	Message        string        `json:"message" db:"message"`
	MasterInstance string        `json:"master_instance" db:"master_instance"`
}

// MergeSpec resolves the effective spec for an orchestration run. Fields of a
// persisted cluster record always win, wholesale, over caller-supplied
// arguments: once a cluster exists its record is the source of truth.
func MergeSpec(record *Cluster, args ClusterSpec) ClusterSpec {
	if record == nil {
		return args
	}
	return ClusterSpec{
		Name:           record.Name,
		Project:        record.Project,
		Prefix:         record.Prefix,
		Zone:           record.Zone,
		MachineType:    record.MachineType,
		Image:          record.Image,
		Network:        record.Network,
		NumWorkers:     record.NumWorkers,
		CustomCommand:  record.CustomCommand,
		PersistentDisk: record.PersistentDisk,
	}
}

func (s ClusterSpec) MasterInstanceName() string {
	return s.Prefix + "-" + masterNameSuffix
}

// WorkerNameTemplate is delivered to instances as metadata so startup scripts
// can derive every worker hostname from an index.
func (s ClusterSpec) WorkerNameTemplate() string {
	return fmt.Sprintf("%s-%s-%%03d", s.Prefix, workerNameCore)
}

func (s ClusterSpec) WorkerInstanceName(index int) string {
	return fmt.Sprintf(s.WorkerNameTemplate(), index)
}

func (s ClusterSpec) WorkerNamePattern() string {
	return fmt.Sprintf(`^%s-%s-\d+$`, s.Prefix, workerNameCore)
}

// InstanceFilter is the provider-side listing filter matching every instance
// belonging to this cluster: the exact master name or the worker pattern.
func (s ClusterSpec) InstanceFilter() string {
	return fmt.Sprintf(`name eq "%s|%s"`, s.MasterInstanceName(), s.WorkerNamePattern())
}

// ScratchMachineType is the machine type variant with an ephemeral disk
// attached. Instances backed by a persistent disk use MachineType unchanged.
func (s ClusterSpec) ScratchMachineType() string {
	return s.MachineType + "-d"
}

func PersistentDiskName(instanceName string) string {
	return instanceName + persistentDiskSuffix
}

// InstanceMetadata assembles the metadata bag delivered to a new instance at
// creation. Startup scripts read these keys verbatim; do not rename them. The
// role contributes one truthy key per daemon it activates.
func (s ClusterSpec) InstanceMetadata(role Role, rpckey string, diskId string, storage string) (map[string]string, error) {
	daemons, err := role.DaemonFlags()
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"startup-script-url":     storage + "/" + startupScriptName,
		"rpckey":                 rpckey,
		"disk-id":                "google-" + diskId,
		"hostname-prefix":        s.Prefix,
		"num-workers":            strconv.Itoa(s.NumWorkers),
		"hadoop-master":          s.MasterInstanceName(),
		"hadoop-worker-template": s.WorkerNameTemplate(),
		"tmp-cloud-storage":      storage,
		"custom-command":         s.CustomCommand,
		"hadoop-patch":           hadoopPatchName,
	}

	for _, daemon := range daemons {
		metadata[daemon] = "1"
	}

	return metadata, nil
}
