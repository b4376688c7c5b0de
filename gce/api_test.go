package gce_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	. "github.com/kmacoskey/haas/gce"
	"github.com/kmacoskey/haas/models"
	"github.com/kmacoskey/haas/poll"
)

const (
	instancesPath  = "/projects/hadoop-sandbox/zones/us-central1-a/instances"
	disksPath      = "/projects/hadoop-sandbox/zones/us-central1-a/disks"
	operationsPath = "/projects/hadoop-sandbox/zones/us-central1-a/operations/operation-1"

	doneOperation    = `{"name":"operation-1","status":"DONE"}`
	runningOperation = `{"name":"operation-1","status":"RUNNING"}`
	failedOperation  = `{"name":"operation-1","status":"DONE","error":{"errors":[{"code":"QUOTA_EXCEEDED","message":"Quota CPUS exceeded"}]}}`
	warnedOperation  = `{"name":"operation-1","status":"DONE","warnings":[{"code":"DISK_SIZE_LARGER_THAN_IMAGE_SIZE","message":"disk size larger than image size"}]}`
	notFoundError    = `{"error":{"code":404,"message":"resource was not found"}}`
)

var _ = Describe("Api", func() {

	var (
		server *httptest.Server
		api    *Api
		err    error
	)

	// Serve the compute api from a local test server. Operation polling is
	// shrunk so exhaustion cases finish quickly.
	newApi := func(handler http.HandlerFunc) {
		server = httptest.NewServer(handler)
		var buildErr error
		api, buildErr = NewApi("hadoop-sandbox", "us-central1-a",
			option.WithEndpoint(server.URL+"/"),
			option.WithoutAuthentication())
		Expect(buildErr).NotTo(HaveOccurred())
		api.OperationPoll = poll.Policy{Interval: time.Millisecond, MaxAttempts: 3}
	}

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("Building the api client", func() {
		It("Should require a project", func() {
			_, err = NewApi("", "us-central1-a", option.WithoutAuthentication())
			Expect(err).To(MatchError(ErrorMissingProject))
		})

		It("Should require a zone", func() {
			_, err = NewApi("hadoop-sandbox", "", option.WithoutAuthentication())
			Expect(err).To(MatchError(ErrorMissingZone))
		})
	})

	// ======================================================================
	//                      _
	//   ___ _ __ ___  __ _| |_ ___
	//  / __| '__/ _ \/ _` | __/ _ \
	// | (__| | |  __/ (_| | ||  __/
	//  \___|_|  \___|\__,_|\__\___|
	//
	// ======================================================================

	Describe("Creating an instance", func() {
		var requested *compute.Instance

		Context("When the provider accepts the request", func() {
			BeforeEach(func() {
				requested = nil
				newApi(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.URL.Path == instancesPath {
						requested = &compute.Instance{}
						Expect(json.NewDecoder(r.Body).Decode(requested)).To(Succeed())
						fmt.Fprint(w, doneOperation)
						return
					}
					http.NotFound(w, r)
				})

				err = api.CreateInstance(models.InstanceConfig{
					Name:           "lab-hadoop-master",
					MachineType:    "n1-standard-4",
					Image:          "projects/debian-cloud/global/images/backports-debian-7",
					Network:        "default",
					PersistentDisk: "lab-hadoop-master-pd",
					Scopes:         []string{"https://www.googleapis.com/auth/devstorage.full_control"},
					Metadata:       map[string]string{"rpckey": "sekrit", "NameNode": "1"},
				})
			})

			It("Should not error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("Should name the instance", func() {
				Expect(requested.Name).To(Equal("lab-hadoop-master"))
			})

			It("Should resolve the machine type within the zone", func() {
				Expect(requested.MachineType).To(Equal("zones/us-central1-a/machineTypes/n1-standard-4"))
			})

			It("Should boot from the image on an auto-deleted disk", func() {
				Expect(requested.Disks[0].Boot).To(BeTrue())
				Expect(requested.Disks[0].AutoDelete).To(BeTrue())
				Expect(requested.Disks[0].InitializeParams.SourceImage).To(Equal("projects/debian-cloud/global/images/backports-debian-7"))
			})

			It("Should attach the persistent disk under its own device name", func() {
				Expect(requested.Disks).To(HaveLen(2))
				Expect(requested.Disks[1].Source).To(Equal("zones/us-central1-a/disks/lab-hadoop-master-pd"))
				Expect(requested.Disks[1].DeviceName).To(Equal("lab-hadoop-master-pd"))
				Expect(requested.Disks[1].Mode).To(Equal("READ_WRITE"))
			})

			It("Should request a NATed external address", func() {
				Expect(requested.NetworkInterfaces).To(HaveLen(1))
				Expect(requested.NetworkInterfaces[0].Network).To(Equal("global/networks/default"))
				Expect(requested.NetworkInterfaces[0].AccessConfigs[0].Type).To(Equal("ONE_TO_ONE_NAT"))
				Expect(requested.NetworkInterfaces[0].AccessConfigs[0].Name).To(Equal("External NAT"))
			})

			It("Should scope the default service account", func() {
				Expect(requested.ServiceAccounts).To(HaveLen(1))
				Expect(requested.ServiceAccounts[0].Email).To(Equal("default"))
				Expect(requested.ServiceAccounts[0].Scopes).To(ConsistOf("https://www.googleapis.com/auth/devstorage.full_control"))
			})

			It("Should pass the metadata through in sorted order", func() {
				Expect(requested.Metadata.Items).To(HaveLen(2))
				Expect(requested.Metadata.Items[0].Key).To(Equal("NameNode"))
				Expect(*requested.Metadata.Items[0].Value).To(Equal("1"))
				Expect(requested.Metadata.Items[1].Key).To(Equal("rpckey"))
				Expect(*requested.Metadata.Items[1].Value).To(Equal("sekrit"))
			})
		})

		Context("When the scratch machine type carries the disk", func() {
			BeforeEach(func() {
				requested = nil
				newApi(func(w http.ResponseWriter, r *http.Request) {
					requested = &compute.Instance{}
					Expect(json.NewDecoder(r.Body).Decode(requested)).To(Succeed())
					fmt.Fprint(w, doneOperation)
				})

				err = api.CreateInstance(models.InstanceConfig{
					Name:        "lab-hadoop-worker-000",
					MachineType: "n1-standard-4-d",
					Image:       "projects/debian-cloud/global/images/backports-debian-7",
					Network:     "default",
				})
			})

			It("Should not attach a second disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(requested.Disks).To(HaveLen(1))
			})
		})

		Context("When the operation reports an error", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, failedOperation)
				})

				err = api.CreateInstance(models.InstanceConfig{Name: "lab-hadoop-master"})
			})

			It("Should fail with the operation's error detail", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("QUOTA_EXCEEDED: Quota CPUS exceeded"))
			})
		})

		Context("When the operation only carries warnings", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, warnedOperation)
				})

				err = api.CreateInstance(models.InstanceConfig{Name: "lab-hadoop-master"})
			})

			It("Should still succeed", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	// ======================================================================
	//             _
	//   __ _  ___| |_
	//  / _` |/ _ \ __|
	// | (_| |  __/ |_
	//  \__, |\___|\__|
	//  |___/
	//
	// ======================================================================

	Describe("Getting an instance", func() {
		var descriptor *models.InstanceDescriptor

		Context("When the instance exists with an external address", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.URL.Path).To(Equal(instancesPath + "/lab-hadoop-master"))
					fmt.Fprint(w, `{"name":"lab-hadoop-master","status":"RUNNING","networkInterfaces":[{"accessConfigs":[{"type":"ONE_TO_ONE_NAT","name":"External NAT","natIP":"104.155.3.1"}]}]}`)
				})

				descriptor, err = api.GetInstance("lab-hadoop-master")
			})

			It("Should describe the instance and its address", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(descriptor.Name).To(Equal("lab-hadoop-master"))
				Expect(descriptor.ExternalIp).To(Equal("104.155.3.1"))
			})
		})

		Context("When the address has not been assigned yet", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"name":"lab-hadoop-master","status":"STAGING","networkInterfaces":[{"accessConfigs":[{"type":"ONE_TO_ONE_NAT","name":"External NAT"}]}]}`)
				})

				descriptor, err = api.GetInstance("lab-hadoop-master")
			})

			It("Should describe the instance with an empty address", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(descriptor.ExternalIp).To(Equal(""))
			})
		})

		Context("When the instance does not exist", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
					fmt.Fprint(w, notFoundError)
				})

				descriptor, err = api.GetInstance("lab-hadoop-master")
			})

			It("Should report absence without an error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(descriptor).To(BeNil())
			})
		})

		Context("When the provider fails", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					fmt.Fprint(w, `{"error":{"code":500,"message":"backend error"}}`)
				})

				descriptor, err = api.GetInstance("lab-hadoop-master")
			})

			It("Should surface the failure", func() {
				Expect(err).To(HaveOccurred())
				Expect(descriptor).To(BeNil())
			})
		})
	})

	// ======================================================================
	//  _ _     _
	// | (_)___| |_
	// | | / __| __|
	// | | \__ \ |_
	// |_|_|___/\__|
	//
	// ======================================================================

	Describe("Listing instances", func() {
		var (
			descriptors []models.InstanceDescriptor
			filters     []string
			pageTokens  []string
		)

		BeforeEach(func() {
			filters = nil
			pageTokens = nil
		})

		Context("When the listing spans pages", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					filters = append(filters, r.URL.Query().Get("filter"))
					pageTokens = append(pageTokens, r.URL.Query().Get("pageToken"))
					if r.URL.Query().Get("pageToken") == "" {
						fmt.Fprint(w, `{"items":[{"name":"lab-hadoop-master"}],"nextPageToken":"page-2"}`)
						return
					}
					fmt.Fprint(w, `{"items":[{"name":"lab-hadoop-worker-000","networkInterfaces":[{"accessConfigs":[{"natIP":"104.155.3.2"}]}]}]}`)
				})

				descriptors, err = api.ListInstances(`name eq "lab-hadoop-master|^lab-hadoop-worker-\d+$"`)
			})

			It("Should not error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("Should pass the filter on every page", func() {
				Expect(filters).To(HaveLen(2))
				Expect(filters[0]).To(Equal(`name eq "lab-hadoop-master|^lab-hadoop-worker-\d+$"`))
				Expect(filters[1]).To(Equal(filters[0]))
			})

			It("Should follow the page token", func() {
				Expect(pageTokens).To(Equal([]string{"", "page-2"}))
			})

			It("Should gather every page into one listing", func() {
				Expect(descriptors).To(HaveLen(2))
				Expect(descriptors[0].Name).To(Equal("lab-hadoop-master"))
				Expect(descriptors[1].Name).To(Equal("lab-hadoop-worker-000"))
				Expect(descriptors[1].ExternalIp).To(Equal("104.155.3.2"))
			})
		})

		Context("When nothing matches", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{}`)
				})

				descriptors, err = api.ListInstances("")
			})

			It("Should return an empty listing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(descriptors).To(BeEmpty())
			})
		})
	})

	// ======================================================================
	//      _      _      _
	//   __| | ___| | ___| |_ ___
	//  / _` |/ _ \ |/ _ \ __/ _ \
	// | (_| |  __/ |  __/ ||  __/
	//  \__,_|\___|_|\___|\__\___|
	//
	// ======================================================================

	Describe("Deleting an instance", func() {
		Context("When the instance exists", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.Method).To(Equal(http.MethodDelete))
					Expect(r.URL.Path).To(Equal(instancesPath + "/lab-hadoop-worker-000"))
					fmt.Fprint(w, doneOperation)
				})

				err = api.DeleteInstance("lab-hadoop-worker-000")
			})

			It("Should not error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("When the instance is already absent", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
					fmt.Fprint(w, notFoundError)
				})

				err = api.DeleteInstance("lab-hadoop-worker-000")
			})

			It("Should treat the delete as already done", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("When the operation reports an error", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, failedOperation)
				})

				err = api.DeleteInstance("lab-hadoop-worker-000")
			})

			It("Should surface the failure", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	// ======================================================================
	//      _ _     _
	//   __| (_)___| | __
	//  / _` | / __| |/ /
	// | (_| | \__ \   <
	//  \__,_|_|___/_|\_\
	//
	// ======================================================================

	Describe("Creating a disk", func() {
		var (
			requestedDisk *compute.Disk
			polls         int
		)

		BeforeEach(func() {
			requestedDisk = nil
			polls = 0
		})

		Context("Without waiting", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.URL.Path == disksPath {
						requestedDisk = &compute.Disk{}
						Expect(json.NewDecoder(r.Body).Decode(requestedDisk)).To(Succeed())
						fmt.Fprint(w, runningOperation)
						return
					}
					polls++
					fmt.Fprint(w, doneOperation)
				})

				err = api.CreateDisk("lab-hadoop-master-pd", 100, false)
			})

			It("Should request the disk by name and size", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(requestedDisk.Name).To(Equal("lab-hadoop-master-pd"))
				Expect(requestedDisk.SizeGb).To(Equal(int64(100)))
			})

			It("Should not poll the operation", func() {
				Expect(polls).To(Equal(0))
			})
		})

		Context("With waiting", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.URL.Path == disksPath {
						fmt.Fprint(w, runningOperation)
						return
					}
					Expect(r.URL.Path).To(Equal(operationsPath))
					polls++
					if polls < 3 {
						fmt.Fprint(w, runningOperation)
						return
					}
					fmt.Fprint(w, doneOperation)
				})

				err = api.CreateDisk("lab-hadoop-master-pd", 100, true)
			})

			It("Should poll until the operation is done", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(polls).To(Equal(3))
			})
		})

		Context("When the operation never completes", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.URL.Path == disksPath {
						fmt.Fprint(w, runningOperation)
						return
					}
					polls++
					fmt.Fprint(w, runningOperation)
				})

				err = api.CreateDisk("lab-hadoop-master-pd", 100, true)
			})

			It("Should give up after the poll budget", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("operation-1 never completed"))
				Expect(polls).To(Equal(3))
			})
		})

		Context("When the operation finishes with an error", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.URL.Path == disksPath {
						fmt.Fprint(w, runningOperation)
						return
					}
					fmt.Fprint(w, failedOperation)
				})

				err = api.CreateDisk("lab-hadoop-master-pd", 100, true)
			})

			It("Should surface the operation's error detail", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("QUOTA_EXCEEDED"))
			})
		})
	})

	Describe("Getting a disk", func() {
		var disk *models.DiskDescriptor

		Context("When the disk exists", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.URL.Path).To(Equal(disksPath + "/lab-hadoop-master-pd"))
					fmt.Fprint(w, `{"name":"lab-hadoop-master-pd","sizeGb":"100","status":"READY"}`)
				})

				disk, err = api.GetDisk("lab-hadoop-master-pd")
			})

			It("Should describe the disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(disk.Name).To(Equal("lab-hadoop-master-pd"))
				Expect(disk.SizeGb).To(Equal(int64(100)))
			})
		})

		Context("When the disk does not exist", func() {
			BeforeEach(func() {
				newApi(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
					fmt.Fprint(w, notFoundError)
				})

				disk, err = api.GetDisk("lab-hadoop-master-pd")
			})

			It("Should report absence without an error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(disk).To(BeNil())
			})
		})
	})

})
