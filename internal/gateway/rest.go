// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/client"
	"github.com/juju/errors"
)

// restClient is a minimal authenticated JSON client for the catalog
// services goose has no native client for (image v2, orchestration v1).
// The token function is re-read per request so re-authentication in the
// underlying session is picked up transparently.
type restClient struct {
	base  *url.URL
	token func() string
	http  *http.Client
}

func endpointForRegion(authClient client.AuthenticatingClient, region, serviceType string) (*url.URL, error) {
	endpoint, ok := authClient.EndpointsForRegion(region)[serviceType]
	if !ok {
		return nil, errors.NotFoundf("%q endpoint for region %q", serviceType, region)
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing %q endpoint", serviceType)
	}
	return base, nil
}

func (c *restClient) do(method, path, contentType string, body []byte, out any) error {
	target := *c.base
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(path, "/")
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target.String(), reader)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("X-Auth-Token", c.token())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Trace(err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NotFoundf("%s %s", method, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.Errorf("%s %s: %s: %s",
			method, path, resp.Status, strings.TrimSpace(string(payload)))
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return errors.Trace(json.Unmarshal(payload, out))
}

// NewImaging returns an Imaging gateway talking to the image endpoint
// registered for region in the catalog.
func NewImaging(authClient client.AuthenticatingClient, region string) (Imaging, error) {
	base, err := endpointForRegion(authClient, region, "image")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewImagingEndpoint(base, authClient.Token), nil
}

// NewImagingEndpoint returns an Imaging gateway for an explicit
// endpoint, bypassing catalog lookup.
func NewImagingEndpoint(base *url.URL, token func() string) Imaging {
	return &restImaging{restClient{base, token, http.DefaultClient}}
}

type restImaging struct {
	restClient
}

// imageKnownFields are the image attributes with first-class fields;
// everything else on the record is a user property.
var imageKnownFields = map[string]bool{
	"id": true, "name": true, "status": true, "visibility": true,
	"protected": true, "checksum": true, "size": true, "owner": true,
	"disk_format": true, "container_format": true, "created_at": true,
	"updated_at": true, "self": true, "file": true, "schema": true,
	"tags": true, "min_disk": true, "min_ram": true, "virtual_size": true,
	"locations": true, "direct_url": true, "os_hidden": true,
	"os_hash_algo": true, "os_hash_value": true,
}

func decodeImage(raw json.RawMessage) (*Image, error) {
	var img Image
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, errors.Trace(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Trace(err)
	}
	img.Properties = make(map[string]string)
	for k, v := range fields {
		if imageKnownFields[k] || v == nil {
			continue
		}
		img.Properties[k] = fmt.Sprintf("%v", v)
	}
	return &img, nil
}

func (c *restImaging) ListImages() ([]Image, error) {
	var page struct {
		Images []json.RawMessage `json:"images"`
	}
	if err := c.do("GET", "v2/images", "", nil, &page); err != nil {
		return nil, errors.Trace(err)
	}
	images := make([]Image, 0, len(page.Images))
	for _, raw := range page.Images {
		img, err := decodeImage(raw)
		if err != nil {
			return nil, errors.Trace(err)
		}
		images = append(images, *img)
	}
	return images, nil
}

func (c *restImaging) GetImage(imageID string) (*Image, error) {
	var raw json.RawMessage
	if err := c.do("GET", "v2/images/"+imageID, "", nil, &raw); err != nil {
		return nil, errors.Trace(err)
	}
	return decodeImage(raw)
}

func (c *restImaging) CreateImage(args CreateImageArgs) (*Image, error) {
	record := map[string]any{
		"name":             args.Name,
		"disk_format":      args.DiskFormat,
		"container_format": args.ContainerFormat,
	}
	if args.Visibility != "" {
		record["visibility"] = args.Visibility
	}
	for k, v := range args.Properties {
		record[k] = v
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var raw json.RawMessage
	if err := c.do("POST", "v2/images", "application/json", body, &raw); err != nil {
		return nil, errors.Trace(err)
	}
	return decodeImage(raw)
}

func (c *restImaging) UploadImageData(imageID string, data []byte) error {
	return c.do("PUT", "v2/images/"+imageID+"/file", "application/octet-stream", data, nil)
}

func (c *restImaging) UpdateImageProperties(imageID string, properties map[string]string) error {
	patch := make([]map[string]string, 0, len(properties))
	for k, v := range properties {
		patch = append(patch, map[string]string{
			"op": "add", "path": "/" + k, "value": v,
		})
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return errors.Trace(err)
	}
	return c.do("PATCH", "v2/images/"+imageID,
		"application/openstack-images-v2.1-json-patch", body, nil)
}

func (c *restImaging) DeleteImage(imageID string) error {
	return c.do("DELETE", "v2/images/"+imageID, "", nil, nil)
}

func (c *restImaging) CreateImportTask(args ImportTaskArgs) (*ImageTask, error) {
	body, err := json.Marshal(map[string]any{
		"type": "import",
		"input": map[string]any{
			"import_from": args.ImportFrom,
			"image_properties": map[string]string{
				"name":        args.Name,
				"disk_format": args.DiskFormat,
			},
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var wire wireTask
	if err := c.do("POST", "v2/tasks", "application/json", body, &wire); err != nil {
		return nil, errors.Trace(err)
	}
	return wire.task(), nil
}

func (c *restImaging) GetTask(taskID string) (*ImageTask, error) {
	var wire wireTask
	if err := c.do("GET", "v2/tasks/"+taskID, "", nil, &wire); err != nil {
		return nil, errors.Trace(err)
	}
	return wire.task(), nil
}

type wireTask struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result"`
}

func (w wireTask) task() *ImageTask {
	t := &ImageTask{ID: w.ID, Type: w.Type, Status: w.Status, Message: w.Message}
	if id, ok := w.Result["image_id"].(string); ok {
		t.ImageID = id
	}
	return t
}

// NewOrchestration returns an Orchestration gateway talking to the
// stack endpoint registered for region in the catalog.
func NewOrchestration(authClient client.AuthenticatingClient, region string) (Orchestration, error) {
	base, err := endpointForRegion(authClient, region, "orchestration")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewOrchestrationEndpoint(base, authClient.Token), nil
}

// NewOrchestrationEndpoint returns an Orchestration gateway for an
// explicit endpoint, bypassing catalog lookup.
func NewOrchestrationEndpoint(base *url.URL, token func() string) Orchestration {
	return &restOrchestration{restClient{base, token, http.DefaultClient}}
}

type restOrchestration struct {
	restClient
}

type wireStack struct {
	ID           string `json:"id"`
	Name         string `json:"stack_name"`
	Status       string `json:"stack_status"`
	StatusReason string `json:"stack_status_reason"`
	Description  string `json:"description"`
	Outputs      []struct {
		Key   string `json:"output_key"`
		Value string `json:"output_value"`
	} `json:"outputs"`
}

func (w wireStack) stack() Stack {
	s := Stack{
		ID:           w.ID,
		Name:         w.Name,
		Status:       w.Status,
		StatusReason: w.StatusReason,
		Description:  w.Description,
	}
	if len(w.Outputs) > 0 {
		s.Outputs = make(map[string]string, len(w.Outputs))
		for _, o := range w.Outputs {
			s.Outputs[o.Key] = o.Value
		}
	}
	return s
}

func (c *restOrchestration) ListStacks() ([]Stack, error) {
	var page struct {
		Stacks []wireStack `json:"stacks"`
	}
	if err := c.do("GET", "stacks", "", nil, &page); err != nil {
		return nil, errors.Trace(err)
	}
	stacks := make([]Stack, len(page.Stacks))
	for i, w := range page.Stacks {
		stacks[i] = w.stack()
	}
	return stacks, nil
}

func (c *restOrchestration) GetStack(nameOrID string) (*Stack, error) {
	var wrapper struct {
		Stack wireStack `json:"stack"`
	}
	if err := c.do("GET", "stacks/"+nameOrID, "", nil, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	stack := wrapper.Stack.stack()
	return &stack, nil
}

func (c *restOrchestration) stackBody(args CreateStackArgs) ([]byte, error) {
	record := map[string]any{
		"stack_name":       args.Name,
		"template":         string(args.Template),
		"disable_rollback": !args.RollbackOn,
	}
	if len(args.Environment) > 0 {
		record["environment"] = string(args.Environment)
	}
	if len(args.Parameters) > 0 {
		record["parameters"] = args.Parameters
	}
	if args.Timeout > 0 {
		record["timeout_mins"] = int(args.Timeout.Minutes())
	}
	return json.Marshal(record)
}

func (c *restOrchestration) CreateStack(args CreateStackArgs) (*Stack, error) {
	body, err := c.stackBody(args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var wrapper struct {
		Stack wireStack `json:"stack"`
	}
	if err := c.do("POST", "stacks", "application/json", body, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	stack := wrapper.Stack.stack()
	return &stack, nil
}

func (c *restOrchestration) UpdateStack(stackID string, args CreateStackArgs) error {
	body, err := c.stackBody(args)
	if err != nil {
		return errors.Trace(err)
	}
	return c.do("PUT", "stacks/"+args.Name+"/"+stackID, "application/json", body, nil)
}

func (c *restOrchestration) DeleteStack(nameOrID string) error {
	return c.do("DELETE", "stacks/"+nameOrID, "", nil, nil)
}

// NewBlockStorageV1Endpoint returns a BlockStorage gateway for a v1
// volume endpoint. The v1 dialect names volumes with display_name and
// display_description; everything else shares the v2 wire shape, so
// records decode through the native structs with the two renamed
// fields overlaid.
func NewBlockStorageV1Endpoint(base *url.URL, token func() string) BlockStorage {
	return &restBlockStorageV1{restClient{base, token, http.DefaultClient}}
}

type restBlockStorageV1 struct {
	restClient
}

type wireVolumeV1 struct {
	cinder.Volume
	DisplayName        string `json:"display_name"`
	DisplayDescription string `json:"display_description"`
}

func (w wireVolumeV1) volume() cinder.Volume {
	v := w.Volume
	v.Name = w.DisplayName
	v.Description = w.DisplayDescription
	return v
}

func (c *restBlockStorageV1) ListVolumes() ([]cinder.Volume, error) {
	var page struct {
		Volumes []wireVolumeV1 `json:"volumes"`
	}
	if err := c.do("GET", "volumes/detail", "", nil, &page); err != nil {
		return nil, errors.Trace(err)
	}
	volumes := make([]cinder.Volume, len(page.Volumes))
	for i, w := range page.Volumes {
		volumes[i] = w.volume()
	}
	return volumes, nil
}

func (c *restBlockStorageV1) GetVolume(volumeID string) (*cinder.Volume, error) {
	var wrapper struct {
		Volume wireVolumeV1 `json:"volume"`
	}
	if err := c.do("GET", "volumes/"+volumeID, "", nil, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	volume := wrapper.Volume.volume()
	return &volume, nil
}

// CreateVolume posts params as received; the caller has already applied
// the dialect renaming, so display_name travels verbatim.
func (c *restBlockStorageV1) CreateVolume(params map[string]any) (*cinder.Volume, error) {
	body, err := json.Marshal(map[string]any{"volume": params})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var wrapper struct {
		Volume wireVolumeV1 `json:"volume"`
	}
	if err := c.do("POST", "volumes", "application/json", body, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	volume := wrapper.Volume.volume()
	return &volume, nil
}

func (c *restBlockStorageV1) DeleteVolume(volumeID string) error {
	return c.do("DELETE", "volumes/"+volumeID, "", nil, nil)
}

func (c *restBlockStorageV1) SetVolumeMetadata(volumeID string, metadata map[string]string) (map[string]string, error) {
	body, err := json.Marshal(map[string]any{"metadata": metadata})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := c.do("POST", "volumes/"+volumeID+"/metadata", "application/json", body, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	return wrapper.Metadata, nil
}

type wireSnapshotV1 struct {
	cinder.Snapshot
	DisplayName        string `json:"display_name"`
	DisplayDescription string `json:"display_description"`
}

func (w wireSnapshotV1) snapshot() cinder.Snapshot {
	s := w.Snapshot
	s.Name = w.DisplayName
	return s
}

func (c *restBlockStorageV1) ListSnapshots() ([]cinder.Snapshot, error) {
	var page struct {
		Snapshots []wireSnapshotV1 `json:"snapshots"`
	}
	if err := c.do("GET", "snapshots/detail", "", nil, &page); err != nil {
		return nil, errors.Trace(err)
	}
	snapshots := make([]cinder.Snapshot, len(page.Snapshots))
	for i, w := range page.Snapshots {
		snapshots[i] = w.snapshot()
	}
	return snapshots, nil
}

func (c *restBlockStorageV1) GetSnapshot(snapshotID string) (*cinder.Snapshot, error) {
	var wrapper struct {
		Snapshot wireSnapshotV1 `json:"snapshot"`
	}
	if err := c.do("GET", "snapshots/"+snapshotID, "", nil, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	snapshot := wrapper.Snapshot.snapshot()
	return &snapshot, nil
}

func (c *restBlockStorageV1) CreateSnapshot(args cinder.CreateSnapshotSnapshotParams) (*cinder.Snapshot, error) {
	record := map[string]any{
		"volume_id": args.VolumeId,
		"force":     args.Force,
	}
	if args.Name != "" {
		record["display_name"] = args.Name
	}
	if args.Description != "" {
		record["display_description"] = args.Description
	}
	body, err := json.Marshal(map[string]any{"snapshot": record})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var wrapper struct {
		Snapshot wireSnapshotV1 `json:"snapshot"`
	}
	if err := c.do("POST", "snapshots", "application/json", body, &wrapper); err != nil {
		return nil, errors.Trace(err)
	}
	snapshot := wrapper.Snapshot.snapshot()
	return &snapshot, nil
}

func (c *restBlockStorageV1) DeleteSnapshot(snapshotID string) error {
	return c.do("DELETE", "snapshots/"+snapshotID, "", nil, nil)
}
