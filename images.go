// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/converge"
	"github.com/go-cirrus/cirrus/internal/gateway"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
)

const opImages = "images"

// imageErrorTransient is the documented import failure the image
// service can emit for a condition that clears on resubmission. One
// automatic resubmit of the whole import task is attempted before the
// failure is treated as terminal.
const imageErrorTransient = "Image cannot be imported. Error code: '396'"

// Task statuses emitted by the image import service.
const (
	taskStatusSuccess = "success"
	taskStatusFailure = "failure"
)

// Images returns all images the connection can see, with records the
// backend reports as deleted filtered out. Listings containing an image
// still materialising (queued, saving) are served but never cached.
func (c *Cloud) Images(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opImages),
		func(ds []resource.Descriptor) bool {
			return resource.Steady(resource.KindImage, ds)
		},
		func() ([]resource.Descriptor, error) {
			imaging, err := c.imaging()
			if err != nil {
				return nil, errors.Trace(err)
			}
			raw, err := imaging.ListImages()
			if err != nil {
				return nil, errors.Annotate(err, "listing images")
			}
			descriptors := normalize.Images(raw)
			filtered := descriptors[:0]
			for _, d := range descriptors {
				if strings.EqualFold(d.Status, "deleted") {
					continue
				}
				filtered = append(filtered, d)
			}
			return filtered, nil
		})
}

// Image resolves nameOrID to a single image, or nil when absent.
func (c *Cloud) Image(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	images, err := c.Images(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return match(images, nameOrID), nil
}

// ImportImageArgs describes an image import.
type ImportImageArgs struct {
	Name       string
	DiskFormat string

	// ImportFrom is an object-store location the image service pulls
	// from through its asynchronous task API. When empty, Data is
	// uploaded directly instead.
	ImportFrom string
	Data       []byte

	// Properties are stamped onto the image once it exists.
	Properties map[string]string
}

// ImportImage brings an image into the cloud and returns its
// descriptor. Task-based imports poll the import task; on the
// documented transient failure code the whole task is resubmitted once
// before the failure is terminal.
func (c *Cloud) ImportImage(ctx context.Context, args ImportImageArgs, timeout time.Duration) (*resource.Descriptor, error) {
	if args.Name == "" {
		return nil, errors.NotValidf("image without a name")
	}
	imaging, err := c.imaging()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var imageID string
	if args.ImportFrom != "" {
		imageID, err = c.importImageTask(ctx, imaging, args, timeout)
	} else {
		imageID, err = c.importImageUpload(imaging, args)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(args.Properties) > 0 {
		if err := imaging.UpdateImageProperties(imageID, args.Properties); err != nil {
			return nil, errors.Annotatef(err, "updating properties of image %q", imageID)
		}
	}
	c.cache.InvalidateOps(opImages)
	raw, err := imaging.GetImage(imageID)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching image %q", imageID)
	}
	d := normalize.Image(*raw)
	return &d, nil
}

func (c *Cloud) importImageUpload(imaging gateway.Imaging, args ImportImageArgs) (string, error) {
	img, err := imaging.CreateImage(gateway.CreateImageArgs{
		Name:            args.Name,
		DiskFormat:      args.DiskFormat,
		ContainerFormat: "bare",
	})
	if err != nil {
		return "", errors.Annotatef(err, "creating image %q", args.Name)
	}
	c.cache.InvalidateOps(opImages)
	if err := imaging.UploadImageData(img.ID, args.Data); err != nil {
		return "", errors.Annotatef(err, "uploading data for image %q", img.ID)
	}
	return img.ID, nil
}

func (c *Cloud) importImageTask(ctx context.Context, imaging gateway.Imaging, args ImportImageArgs, timeout time.Duration) (string, error) {
	taskArgs := gateway.ImportTaskArgs{
		Name:       args.Name,
		ImportFrom: args.ImportFrom,
		DiskFormat: args.DiskFormat,
	}
	task, err := imaging.CreateImportTask(taskArgs)
	if err != nil {
		return "", errors.Annotatef(err, "submitting import task for image %q", args.Name)
	}
	c.cache.InvalidateOps(opImages)

	taskID := task.ID
	resubmitted := false
	session := converge.Session{
		Name:    "image import task for " + args.Name,
		Timeout: timeout,
		Clock:   c.clock,
		Poll: func(ctx context.Context) (*resource.Descriptor, error) {
			t, err := imaging.GetTask(taskID)
			if IsNotFound(err) {
				return nil, nil
			}
			if err != nil {
				return nil, errors.Trace(err)
			}
			return taskDescriptor(t), nil
		},
		Classify: converge.TerminalStatus(taskStatusSuccess, taskStatusFailure),
		IsTransient: func(d *resource.Descriptor) bool {
			return !resubmitted &&
				d.StringAttr(resource.AttrStatusMessage) == imageErrorTransient
		},
		Resubmit: func(ctx context.Context) error {
			resubmitted = true
			t, err := imaging.CreateImportTask(taskArgs)
			if err != nil {
				return errors.Annotatef(err, "resubmitting import task for image %q", args.Name)
			}
			taskID = t.ID
			c.cache.InvalidateOps(opImages)
			return nil
		},
	}
	final, err := session.Wait(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	imageID := final.StringAttr("image_id")
	if imageID == "" {
		return "", errors.Errorf("import task %q succeeded without an image id", taskID)
	}
	return imageID, nil
}

// taskDescriptor views an import task through the descriptor shape so
// the convergence engine can drive it.
func taskDescriptor(t *gateway.ImageTask) *resource.Descriptor {
	return &resource.Descriptor{
		Kind:   resource.KindImage,
		ID:     t.ID,
		Status: t.Status,
		Attrs: map[string]any{
			resource.AttrStatusMessage: t.Message,
			"image_id":                 t.ImageID,
		},
	}
}

// DeleteImage removes the named image, returning false without error
// when it is already absent.
func (c *Cloud) DeleteImage(ctx context.Context, nameOrID string) (bool, error) {
	target, err := c.Image(ctx, nameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if target == nil {
		return false, nil
	}
	imaging, err := c.imaging()
	if err != nil {
		return false, errors.Trace(err)
	}
	c.cache.InvalidateOps(opImages)
	if err := imaging.DeleteImage(target.ID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting image %q", target.ID)
	}
	c.cache.InvalidateOps(opImages)
	return true, nil
}
