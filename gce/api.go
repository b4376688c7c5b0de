// Package gce drives the Google Compute Engine API for a single project and
// zone pair.
package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kmacoskey/haas/models"
	"github.com/kmacoskey/haas/poll"
)

const (
	ErrorMissingProject = "a project is required for a compute api client"
	ErrorMissingZone    = "a zone is required for a compute api client"
)

type Api struct {
	service *compute.Service
	project string
	zone    string

	// OperationPoll bounds waits on zone operations, such as disk creation.
	OperationPoll poll.Policy
}

// NewApi builds a compute api client for the given project and zone. Without
// explicit client options it authorizes with application default credentials
// scoped for compute and full-control cloud storage.
func NewApi(project string, zone string, opts ...option.ClientOption) (*Api, error) {
	logger := log.WithFields(log.Fields{"package": "gce", "event": "new_api"})

	if len(project) == 0 {
		logger.Error(ErrorMissingProject)
		return nil, errors.New(ErrorMissingProject)
	}

	if len(zone) == 0 {
		logger.Error(ErrorMissingZone)
		return nil, errors.New(ErrorMissingZone)
	}

	ctx := context.Background()

	if len(opts) == 0 {
		client, err := google.DefaultClient(ctx, compute.ComputeScope, compute.DevstorageFullControlScope)
		if err != nil {
			logger.Error(err.Error())
			return nil, err
		}
		opts = []option.ClientOption{option.WithHTTPClient(client)}
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		logger.Error(err.Error())
		return nil, err
	}

	return &Api{
		service:       service,
		project:       project,
		zone:          zone,
		OperationPoll: poll.Policy{Interval: 2 * time.Second, MaxAttempts: 60},
	}, nil
}

// CreateInstance requests a new instance. The returned error reflects whether
// the provider accepted the request; readiness is observed separately through
// GetInstance. Operation warnings are logged and do not fail the create.
func (a *Api) CreateInstance(config models.InstanceConfig) error {
	logger := log.WithFields(log.Fields{"package": "gce", "event": "create_instance", "instance": config.Name})

	instance := &compute.Instance{
		Name:        config.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", a.zone, config.MachineType),
		Disks: []*compute.AttachedDisk{
			{
				Boot:       true,
				AutoDelete: true,
				Type:       "PERSISTENT",
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: config.Image,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network: fmt.Sprintf("global/networks/%s", config.Network),
				AccessConfigs: []*compute.AccessConfig{
					{
						Type: "ONE_TO_ONE_NAT",
						Name: "External NAT",
					},
				},
			},
		},
		Metadata: metadataItems(config.Metadata),
	}

	// The device name surfaces inside the guest as /dev/disk/by-id/google-<name>,
	// which is how the startup script locates the disk named by its metadata.
	if len(config.PersistentDisk) > 0 {
		instance.Disks = append(instance.Disks, &compute.AttachedDisk{
			Type:       "PERSISTENT",
			Mode:       "READ_WRITE",
			Source:     fmt.Sprintf("zones/%s/disks/%s", a.zone, config.PersistentDisk),
			DeviceName: config.PersistentDisk,
		})
	}

	if len(config.Scopes) > 0 {
		instance.ServiceAccounts = []*compute.ServiceAccount{
			{
				Email:  "default",
				Scopes: config.Scopes,
			},
		}
	}

	op, err := a.service.Instances.Insert(a.project, a.zone, instance).Do()
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	if err := operationError(op); err != nil {
		logger.Error(err.Error())
		return err
	}

	logWarnings(logger, op.Warnings)

	logger.Info("instance creation requested")

	return nil
}

// GetInstance returns the current view of a named instance, or nil without
// error when the provider does not know the name.
func (a *Api) GetInstance(name string) (*models.InstanceDescriptor, error) {
	instance, err := a.service.Instances.Get(a.project, a.zone, name).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return describeInstance(instance), nil
}

// ListInstances returns every instance in the zone matching the provider
// filter expression. An empty filter lists the whole zone.
func (a *Api) ListInstances(filter string) ([]models.InstanceDescriptor, error) {
	instances := []models.InstanceDescriptor{}

	call := a.service.Instances.List(a.project, a.zone)
	if len(filter) > 0 {
		call = call.Filter(filter)
	}

	for {
		list, err := call.Do()
		if err != nil {
			return nil, err
		}

		for _, instance := range list.Items {
			instances = append(instances, *describeInstance(instance))
		}

		if len(list.NextPageToken) == 0 {
			break
		}
		call = call.PageToken(list.NextPageToken)
	}

	return instances, nil
}

// DeleteInstance requests deletion of a named instance. Deleting a name the
// provider does not know is not an error, so deletes can be repeated until
// the listing comes back empty.
func (a *Api) DeleteInstance(name string) error {
	logger := log.WithFields(log.Fields{"package": "gce", "event": "delete_instance", "instance": name})

	op, err := a.service.Instances.Delete(a.project, a.zone, name).Do()
	if err != nil {
		if isNotFound(err) {
			logger.Info("instance already absent")
			return nil
		}
		logger.Error(err.Error())
		return err
	}

	if err := operationError(op); err != nil {
		logger.Error(err.Error())
		return err
	}

	logWarnings(logger, op.Warnings)

	logger.Info("instance deletion requested")

	return nil
}

// CreateDisk requests a new blank persistent disk and, when wait is set,
// blocks until the create operation finishes.
func (a *Api) CreateDisk(name string, sizeGb int64, wait bool) error {
	logger := log.WithFields(log.Fields{"package": "gce", "event": "create_disk", "disk": name})

	disk := &compute.Disk{
		Name:   name,
		SizeGb: sizeGb,
	}

	op, err := a.service.Disks.Insert(a.project, a.zone, disk).Do()
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	if err := operationError(op); err != nil {
		logger.Error(err.Error())
		return err
	}

	logWarnings(logger, op.Warnings)

	if !wait {
		return nil
	}

	if err := a.waitForZoneOperation(op.Name); err != nil {
		logger.Error(err.Error())
		return err
	}

	logger.Info("disk created")

	return nil
}

// GetDisk returns the named persistent disk, or nil without error when the
// provider does not know the name.
func (a *Api) GetDisk(name string) (*models.DiskDescriptor, error) {
	disk, err := a.service.Disks.Get(a.project, a.zone, name).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return &models.DiskDescriptor{Name: disk.Name, SizeGb: disk.SizeGb}, nil
}

func (a *Api) waitForZoneOperation(name string) error {
	err := a.OperationPoll.Wait(func() (bool, error) {
		op, err := a.service.ZoneOperations.Get(a.project, a.zone, name).Do()
		if err != nil {
			return false, err
		}
		if op.Status != "DONE" {
			return false, nil
		}
		if err := operationError(op); err != nil {
			return false, err
		}
		return true, nil
	})

	if errors.Is(err, poll.ErrExhausted) {
		return fmt.Errorf("zone operation %s never completed: %s", name, err)
	}

	return err
}

// operationError folds the error list of a compute operation into a single
// error. Operations report failure through this field even when the HTTP
// request itself succeeded.
func operationError(op *compute.Operation) error {
	if op.Error == nil || len(op.Error.Errors) == 0 {
		return nil
	}

	messages := make([]string, 0, len(op.Error.Errors))
	for _, opErr := range op.Error.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", opErr.Code, opErr.Message))
	}

	return errors.New(strings.Join(messages, "; "))
}

func logWarnings(logger *log.Entry, warnings []*compute.OperationWarnings) {
	for _, warning := range warnings {
		logger.Warn(fmt.Sprintf("%s: %s", warning.Code, warning.Message))
	}
}

func isNotFound(err error) bool {
	var apiError *googleapi.Error
	return errors.As(err, &apiError) && apiError.Code == http.StatusNotFound
}

func describeInstance(instance *compute.Instance) *models.InstanceDescriptor {
	descriptor := &models.InstanceDescriptor{Name: instance.Name}

	if len(instance.NetworkInterfaces) > 0 && len(instance.NetworkInterfaces[0].AccessConfigs) > 0 {
		descriptor.ExternalIp = instance.NetworkInterfaces[0].AccessConfigs[0].NatIP
	}

	return descriptor
}

// Metadata items are sorted so that request bodies are stable across runs.
func metadataItems(metadata map[string]string) *compute.Metadata {
	if len(metadata) == 0 {
		return nil
	}

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]*compute.MetadataItems, 0, len(keys))
	for _, key := range keys {
		value := metadata[key]
		items = append(items, &compute.MetadataItems{Key: key, Value: &value})
	}

	return &compute.Metadata{Items: items}
}
