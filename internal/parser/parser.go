// Package parser runs a stored semantic parser configuration on text.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// Solution is one parse of the input.
type Solution struct {
	Expressions string `json:"expressions"`
}

// Result is the full parser answer together with its raw response.
type Result struct {
	Response  *client.Response
	Solutions []Solution
}

// Expressions returns the expressions of every solution in order.
func (r *Result) Expressions() []string {
	out := make([]string, len(r.Solutions))
	for i, s := range r.Solutions {
		out[i] = s.Expressions
	}
	return out
}

// Runner posts text to a parser configuration.
type Runner struct {
	client *client.Client
}

// NewRunner returns a Runner using c.
func NewRunner(c *client.Client) *Runner {
	return &Runner{client: c}
}

// Run parses text with the parser configuration id and expects 200.
// A single solution object is accepted in place of a list.
func (r *Runner) Run(ctx context.Context, id resource.ID, text string) (*Result, error) {
	path := fmt.Sprintf("/parser/%s?version=%d", id.ID, id.Version)
	resp, err := r.client.PostText(ctx, path, text)
	if err != nil {
		return nil, fmt.Errorf("run parser: %w", err)
	}
	if resp.Status != http.StatusOK {
		return nil, resource.Violation("run parser", resp, "status 200")
	}

	var raw json.RawMessage
	if err := resp.JSON(&raw); err != nil {
		return nil, fmt.Errorf("run parser: %w", err)
	}
	res := &Result{Response: resp}
	if len(raw) > 0 && raw[0] == '{' {
		var single Solution
		if err := resp.JSON(&single); err != nil {
			return nil, fmt.Errorf("run parser: %w", err)
		}
		res.Solutions = []Solution{single}
		return res, nil
	}
	if err := resp.JSON(&res.Solutions); err != nil {
		return nil, fmt.Errorf("run parser: %w", err)
	}
	return res, nil
}
