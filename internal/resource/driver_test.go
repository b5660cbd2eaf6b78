package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/testutil"
)

func newTestDriver(t *testing.T) (*Driver, *testutil.FakeEDDI) {
	t.Helper()
	fake := testutil.NewFakeEDDI(t, testutil.DefaultScript())
	c, err := client.New(client.Config{BaseURI: fake.URL()})
	require.NoError(t, err)
	return NewDriver(c), fake
}

func TestDriverCreateYieldsVersionOne(t *testing.T) {
	d, _ := newTestDriver(t)

	id, err := d.Create(context.Background(), BehaviorSets, map[string]any{"behaviorGroups": []any{}})
	require.NoError(t, err)
	assert.Equal(t, 1, id.Version)
	assert.NotEmpty(t, id.ID)
	assert.Equal(t, id, d.Current())
}

func TestDriverLifecycle(t *testing.T) {
	d, fake := newTestDriver(t)
	ctx := context.Background()

	created, err := d.Create(ctx, OutputSets, json.RawMessage(`{"outputSet":[],"lang":"en"}`))
	require.NoError(t, err)

	resp, err := d.Read(ctx, OutputSets)
	require.NoError(t, err)
	assert.JSONEq(t, `{"outputSet":[],"lang":"en"}`, string(resp.Body))

	resp, err = d.Update(ctx, OutputSets, `{"outputSet":[{"action":"greet"}],"lang":"en"}`)
	require.NoError(t, err)
	assert.Equal(t, created.Next(), d.Current())
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Contains(t, string(resp.Body), "greet")

	resp, err = d.Patch(ctx, OutputSets, map[string]any{"lang": "de"})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Current().Version)
	assert.JSONEq(t, `{"outputSet":[{"action":"greet"}],"lang":"de"}`, string(resp.Body))

	stored, ok := fake.Document(OutputSets.Path, created.ID, 2)
	require.True(t, ok)
	assert.Contains(t, string(stored), `"en"`)

	require.NoError(t, d.Delete(ctx, OutputSets))
	_, err = d.Read(ctx, OutputSets)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDriverVersionsIncrementFromPriorMutation(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Create(ctx, Dictionaries, map[string]any{"words": []any{}})
	require.NoError(t, err)
	for want := 2; want <= 5; want++ {
		_, err := d.Update(ctx, Dictionaries, map[string]any{"words": []any{}, "rev": want})
		require.NoError(t, err)
		assert.Equal(t, want, d.Current().Version)
	}
}

func TestDriverDetectsStaleVersion(t *testing.T) {
	d, fake := newTestDriver(t)
	fake.SetStaleVersions(true)
	ctx := context.Background()

	_, err := d.Create(ctx, BehaviorSets, map[string]any{})
	require.NoError(t, err)

	_, err = d.Update(ctx, BehaviorSets, map[string]any{"x": 1})
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "update", pe.Op)
	assert.Contains(t, pe.Want, "?version=2")
	assert.Equal(t, 1, d.Current().Version)
}

func TestDriverDetectsReadableDelete(t *testing.T) {
	d, fake := newTestDriver(t)
	fake.SetKeepDeleted(true)
	ctx := context.Background()

	_, err := d.Create(ctx, BehaviorSets, map[string]any{})
	require.NoError(t, err)

	err = d.Delete(ctx, BehaviorSets)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusOK, pe.Status)
	assert.Contains(t, pe.Want, "404")
}

func TestDriverRejectsWrongCollectionURI(t *testing.T) {
	d, _ := newTestDriver(t)
	wrong := Collection{Name: "behavior", Path: BehaviorSets.Path, URI: OutputSets.URI}

	_, err := d.Create(context.Background(), wrong, map[string]any{})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestDriverRequiresCurrentResource(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Read(ctx, Bots)
	assert.Error(t, err)
	_, err = d.Update(ctx, Bots, map[string]any{})
	assert.Error(t, err)
	assert.Error(t, d.Delete(ctx, Bots))
}

func TestDriverCreateRejectsInvalidBody(t *testing.T) {
	d, _ := newTestDriver(t)

	_, err := d.Create(context.Background(), Bots, "not json")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
}
