package models

import "fmt"

// Role names the part an instance plays in a cluster. Each role maps onto the
// set of daemons its startup script is told to launch.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

var roleDaemons = map[Role][]string{
	RoleMaster: {"NameNode", "JobTracker"},
	RoleWorker: {"DataNode", "TaskTracker"},
}

// DaemonFlags returns the metadata keys a role sets to "1" on its instance.
func (r Role) DaemonFlags() ([]string, error) {
	daemons, ok := roleDaemons[r]
	if !ok {
		return nil, NewProvisioningError(fmt.Sprintf("invalid instance role name: %s", r))
	}
	return daemons, nil
}

// Instance is the persisted record of a provisioned cluster member.
type Instance struct {
	ClusterId  string `json:"cluster_id" db:"cluster_id"`
	Name       string `json:"name" db:"name"`
	Role       Role   `json:"role" db:"role"`
	RpcKey     string `json:"rpckey" db:"rpckey"`
	ExternalIp string `json:"external_ip" db:"external_ip"`
}

// InstanceConfig describes an instance for the compute provider to create.
// Image is passed through to the provider verbatim, so it may be any image
// path the provider accepts.
type InstanceConfig struct {
	Name           string
	MachineType    string
	Image          string
	Network        string
	PersistentDisk string
	Scopes         []string
	Metadata       map[string]string
}

// InstanceDescriptor is the provider-side view of an instance. ExternalIp is
// empty until the provider finishes assigning an address.
type InstanceDescriptor struct {
	Name       string `json:"name"`
	ExternalIp string `json:"external_ip"`
}

// DiskDescriptor is the provider-side view of a persistent disk.
type DiskDescriptor struct {
	Name   string `json:"name"`
	SizeGb int64  `json:"size_gb"`
}
