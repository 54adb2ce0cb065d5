package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/lattice/internal/config"
	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/domain"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Setenv(config.EnvPath, "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func listMutations(t *testing.T, dir string) []domain.Mutation {
	t.Helper()
	var list []domain.Mutation
	out := execute(t, "queue", "ls", "--json", "--status", "", "--store", "file", "--data-dir", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	return list
}

func TestCLI_Version(t *testing.T) {
	out := execute(t, "version")
	assert.True(t, strings.HasPrefix(out, "lattice version "))
}

func TestCLI_QueueLifecycle(t *testing.T) {
	dir := t.TempDir()

	id := strings.TrimSpace(execute(t, "queue", "add", "create", "user-1",
		"--entity-type", "user", "--data", `{"name":"Ada"}`,
		"--store", "file", "--data-dir", dir, "--log-level", "error"))
	require.NotEmpty(t, id)

	list := listMutations(t, dir)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, domain.MutationPending, list[0].Status)

	out := execute(t, "queue", "sync", "--store", "file", "--data-dir", dir, "--log-level", "error")
	assert.Contains(t, out, "synced 1")
	assert.Empty(t, listMutations(t, dir))

	snap, err := file.NewGraphStore(dir).LoadGraph(context.Background(), "domain")
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "Ada", snap.Nodes[0].Data["name"])
}

func TestCLI_QueueRemove(t *testing.T) {
	dir := t.TempDir()
	id := strings.TrimSpace(execute(t, "queue", "add", "update", "doc-1", "--data", "", "--store", "file", "--data-dir", dir))

	out := execute(t, "queue", "rm", id, "--store", "file", "--data-dir", dir)
	assert.Contains(t, out, "Removed mutation")
	assert.Empty(t, listMutations(t, dir))
}

func TestCLI_Index(t *testing.T) {
	dir := t.TempDir()
	execute(t, "index", "add", "e1", "intent:checkout", "domain:cart", "--type", "targets", "--store", "file", "--data-dir", dir)

	var edges []domain.CrossGraphEdge
	out := execute(t, "index", "query", "--json", "--target", "cart", "--store", "file", "--data-dir", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, domain.GraphIntent, edges[0].SourceGraph)

	out = execute(t, "index", "graph", "--changed", "intent:checkout", "--store", "file", "--data-dir", dir)
	assert.Contains(t, out, `intent_checkout -- "targets" --> domain_cart`)
	assert.Contains(t, out, "class domain_cart invalidated;")

	out = execute(t, "index", "rm", "e1", "--store", "file", "--data-dir", dir)
	assert.Contains(t, out, "Removed edge 'e1'")

	out = execute(t, "index", "query", "--json", "--target", "cart", "--store", "file", "--data-dir", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &edges))
	assert.Empty(t, edges)
}

func TestCLI_ConflictsResolveServerWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, file.NewGraphStore(dir).UpdateNodes(context.Background(), "domain", []domain.GraphNode{
		{ID: "user-1", Type: "user", Data: map[string]any{"name": "Bob"}},
	}))
	execute(t, "queue", "add", "update", "user-1", "--data", `{"name":"Ada"}`, "--store", "file", "--data-dir", dir)

	var found []domain.Conflict
	out := execute(t, "conflicts", "detect", "--json", "--store", "file", "--data-dir", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)

	out = execute(t, "conflicts", "resolve", "--strategy", "server-wins", "--store", "file", "--data-dir", dir)
	assert.Contains(t, out, "user-1: kept server state")
	assert.Empty(t, listMutations(t, dir))
}

func TestCLI_Status(t *testing.T) {
	dir := t.TempDir()
	execute(t, "queue", "add", "create", "user-1", "--data", `{"name":"Ada"}`, "--store", "file", "--data-dir", dir)
	execute(t, "index", "add", "e1", "component:cart-view", "domain:cart", "--type", "renders", "--store", "file", "--data-dir", dir)

	out := execute(t, "status", "--store", "file", "--data-dir", dir)
	assert.Contains(t, out, "Store driver: `file`")
	assert.Contains(t, out, "| 1 | 0 | 0 | yes |")
	assert.Contains(t, out, "| renders | 1 |")
	assert.Contains(t, out, "No conflicts.")
}

func TestParseEndpoint(t *testing.T) {
	g, n, err := parseEndpoint("component:cart-view")
	require.NoError(t, err)
	assert.Equal(t, domain.GraphComponent, g)
	assert.Equal(t, "cart-view", n)

	for _, bad := range []string{"cart", "ui:cart", "domain:"} {
		_, _, err := parseEndpoint(bad)
		assert.Error(t, err, bad)
	}
}

func syncThrough(t *testing.T, c config.Config) {
	t.Helper()
	ctx := context.Background()
	s, err := buildStack(c, logging.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Start(ctx)
	require.NoError(t, err)

	_, err = s.Queue.QueueMutation(ctx, domain.Mutation{Type: domain.MutationCreate, EntityID: "n1", Payload: map[string]any{"v": "x"}})
	require.NoError(t, err)
	res, err := s.Queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	snap, err := s.GraphStore().LoadGraph(ctx, c.Remote.GraphID)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
}

func TestBuildStack_Drivers(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c := config.Default()
		c.Store.Driver = config.DriverMemory
		syncThrough(t, c)
	})

	t.Run("sqlite", func(t *testing.T) {
		c := config.Default()
		c.Store.Driver = config.DriverSQLite
		c.Store.Path = t.TempDir()
		syncThrough(t, c)
		assert.FileExists(t, filepath.Join(c.Store.Path, "lattice.db"))
	})

	t.Run("loam", func(t *testing.T) {
		c := config.Default()
		c.Store.Driver = config.DriverLoam
		c.Store.Path = t.TempDir()
		syncThrough(t, c)
		assert.DirExists(t, filepath.Join(c.Store.Path, "graphs"))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := config.Default()
		c.Store.Driver = config.DriverRedis
		c.Store.Redis.Addr = mr.Addr()
		c.Store.Redis.Lock = true
		syncThrough(t, c)
		assert.True(t, mr.Exists("lattice:graph:domain"))
	})
}

func TestBuildStack_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	c := config.Default()
	c.Store.Path = t.TempDir()
	c.Queue.Online = false
	c.Encryption.Keys = []string{hex.EncodeToString(bytes.Repeat([]byte{7}, 32))}

	s, err := buildStack(c, logging.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close()

	m, err := s.Queue.QueueMutation(ctx, domain.Mutation{Type: domain.MutationUpdate, EntityID: "u", Payload: map[string]any{"secret": "hunter2"}})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(c.Store.Path, "mutations", m.ID+".json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")

	loaded, err := s.MutationStore().Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", loaded.Payload["secret"])
}
