package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
	"github.com/labsai/EDDI-integration-tests/internal/testutil"
)

func TestRunParser(t *testing.T) {
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	ctx := context.Background()

	d := resource.NewDriver(c)
	dict, err := d.Create(ctx, resource.Dictionaries, map[string]any{"words": []any{}})
	require.NoError(t, err)
	cfg := map[string]any{"extensions": map[string]any{"dictionaries": []any{
		map[string]any{"type": "eddi://ai.labs.parser.dictionaries.regular", "config": map[string]any{"uri": resource.Dictionaries.Reference(dict)}},
	}}}
	id, err := d.Create(ctx, resource.Parsers, cfg)
	require.NoError(t, err)

	runner := NewRunner(c)
	res, err := runner.Run(ctx, id, "hello")
	require.NoError(t, err)
	assert.Contains(t, res.Expressions(), "greeting(hello)")

	res, err = runner.Run(ctx, id, "good afternoon")
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting(good_afternoon)"}, res.Expressions())

	_, err = runner.Run(ctx, resource.ID{ID: "missing", Version: 1}, "hello")
	require.Error(t, err)
	assert.True(t, resource.IsNotFound(err))
}
