// Package resource drives the lifecycle of versioned configuration
// resources: create yields version 1, every update or patch yields the
// previous version plus one, and a deleted resource reads as 404.
package resource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labsai/EDDI-integration-tests/internal/client"
)

// Driver performs lifecycle operations and asserts the contract of every
// response. It tracks the ID of the resource it last created or mutated.
// A Driver is not safe for concurrent use.
type Driver struct {
	client  *client.Client
	logger  *slog.Logger
	current ID
}

// NewDriver returns a Driver bound to c.
func NewDriver(c *client.Client) *Driver {
	logger := c.Logger()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{client: c, logger: logger}
}

// Current returns the ID of the resource under test.
func (d *Driver) Current() ID { return d.current }

// Use makes id the resource under test.
func (d *Driver) Use(id ID) { d.current = id }

// Create POSTs body to coll and expects 201 with a Location inside coll at
// version 1. The parsed ID becomes current.
func (d *Driver) Create(ctx context.Context, coll Collection, body any) (ID, error) {
	resp, err := d.client.PostJSON(ctx, coll.Path, body)
	if err != nil {
		return ID{}, fmt.Errorf("create %s: %w", coll.Name, err)
	}
	if resp.Status != http.StatusCreated {
		return ID{}, Violation("create", resp, "status 201")
	}
	id, err := d.expectLocation("create", coll, resp, 1)
	if err != nil {
		return ID{}, err
	}
	d.current = id
	d.logger.Info("resource created", "collection", coll.Name, "id", id.ID, "version", id.Version)
	return id, nil
}

// Read GETs the current resource and expects 200.
func (d *Driver) Read(ctx context.Context, coll Collection) (*client.Response, error) {
	resp, err := d.fetch(ctx, coll, d.current)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return resp, Violation("read", resp, "status 200")
	}
	return resp, nil
}

// Update PUTs body over the current resource. It expects 200 with a
// Location at the next version, then reads the new version back and
// returns that read.
func (d *Driver) Update(ctx context.Context, coll Collection, body any) (*client.Response, error) {
	return d.mutate(ctx, "update", coll, body, d.client.PutJSON)
}

// Patch applies body to the current resource with PATCH. Same contract
// as Update.
func (d *Driver) Patch(ctx context.Context, coll Collection, body any) (*client.Response, error) {
	return d.mutate(ctx, "patch", coll, body, d.client.PatchJSON)
}

type sendFunc func(ctx context.Context, path string, body any) (*client.Response, error)

func (d *Driver) mutate(ctx context.Context, op string, coll Collection, body any, send sendFunc) (*client.Response, error) {
	if d.current.IsZero() {
		return nil, fmt.Errorf("%s %s: no current resource", op, coll.Name)
	}
	prev := d.current
	resp, err := send(ctx, coll.ItemPath(prev), body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, coll.Name, err)
	}
	if resp.Status != http.StatusOK {
		return resp, Violation(op, resp, "status 200")
	}
	id, err := d.expectLocation(op, coll, resp, prev.Version+1)
	if err != nil {
		return resp, err
	}
	d.current = id
	d.logger.Info("resource mutated", "op", op, "collection", coll.Name, "id", id.ID, "version", id.Version)

	read, err := d.Read(ctx, coll)
	if err != nil {
		return read, fmt.Errorf("%s %s: read back: %w", op, coll.Name, err)
	}
	return read, nil
}

// Delete DELETEs the current resource, expects 200 and then verifies a
// read of the same version returns 404.
func (d *Driver) Delete(ctx context.Context, coll Collection) error {
	if d.current.IsZero() {
		return fmt.Errorf("delete %s: no current resource", coll.Name)
	}
	resp, err := d.client.Delete(ctx, coll.ItemPath(d.current))
	if err != nil {
		return fmt.Errorf("delete %s: %w", coll.Name, err)
	}
	if resp.Status != http.StatusOK {
		return Violation("delete", resp, "status 200")
	}

	read, err := d.fetch(ctx, coll, d.current)
	if err != nil {
		return err
	}
	if read.Status != http.StatusNotFound {
		return Violation("delete", read, "status 404 on read after delete")
	}
	d.logger.Info("resource deleted", "collection", coll.Name, "id", d.current.ID, "version", d.current.Version)
	return nil
}

func (d *Driver) fetch(ctx context.Context, coll Collection, id ID) (*client.Response, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("read %s: no current resource", coll.Name)
	}
	resp, err := d.client.Get(ctx, coll.ItemPath(id))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", coll.Name, err)
	}
	return resp, nil
}

func (d *Driver) expectLocation(op string, coll Collection, resp *client.Response, version int) (ID, error) {
	loc := resp.Location()
	suffix := fmt.Sprintf("?version=%d", version)
	if !strings.HasPrefix(loc, coll.URI) || !strings.HasSuffix(loc, suffix) {
		return ID{}, Violation(op, resp, fmt.Sprintf("location %s<id>%s", coll.URI, suffix))
	}
	id, err := ParseLocation(loc)
	if err != nil {
		return ID{}, fmt.Errorf("%s %s: %w", op, coll.Name, err)
	}
	return id, nil
}

// Violation builds the ProtocolError for resp not meeting want.
func Violation(op string, resp *client.Response, want string) *ProtocolError {
	return &ProtocolError{
		Op:       op,
		Method:   resp.Method,
		URL:      resp.URL,
		Want:     want,
		Status:   resp.Status,
		Location: resp.Location(),
		Body:     string(resp.Body),
	}
}
