package client

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfkarakulak/superdeploy/pkg/api"
	"github.com/cfkarakulak/superdeploy/pkg/driver"
	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/state"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

const testToken = "client-secret"

func writeDemoConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"addons/postgres.yaml": `kind: postgres
config:
  image: postgres
  port: 5432
  version: "16.3"
`,
		"projects/demo.yaml": `name: demo
default_environment: prod
addons:
  - kind: postgres
apps:
  - name: web
    image: ghcr.io/acme/web
    port: 3000
`,
		"environments/prod.yaml": `driver: local
`,
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// startServer runs a real API server on an ephemeral port and returns
// its base URL.
func startServer(t *testing.T) string {
	t.Helper()

	store, err := state.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	orc, err := orchestrator.New(&orchestrator.Config{
		ConfigDir: writeDemoConfig(t),
		Store:     store,
		Broker:    broker,
		NewDriver: func(*types.Environment) (driver.Driver, error) { return driver.NewMemoryDriver(), nil },
	})
	require.NoError(t, err)
	t.Cleanup(orc.Close)

	srv, err := api.NewServer(api.Config{
		Orchestrator: orc,
		Store:        store,
		Broker:       broker,
		Token:        testToken,
		Workers:      1,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(context.Background(), ln)
	}()
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		<-done
	})

	return "http://" + ln.Addr().String()
}

func newTestClient(t *testing.T, baseURL, token string) *Client {
	t.Helper()
	cli, err := NewClient(baseURL, token)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("://nope", "")
	require.Error(t, err)

	_, err = NewClient("localhost:8080", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestDeployAndWait(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acc, err := cli.Deploy(ctx, api.DeployRequest{Project: "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, acc.RunID)
	assert.Equal(t, "demo", acc.Project)
	assert.Equal(t, string(types.RunPending), acc.Status)

	run, err := cli.WaitForRun(ctx, acc.RunID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, string(types.RunSucceeded), run.Status)
	assert.Len(t, run.Steps, 2)
	for _, step := range run.Steps {
		assert.Equal(t, string(types.StepSucceeded), step.Status)
		assert.Equal(t, string(types.OutcomeCreated), step.Outcome)
	}
}

func TestDeployUnknownProject(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)

	_, err := cli.Deploy(context.Background(), api.DeployRequest{Project: "ghost"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "ghost")
}

func TestWrongTokenRejected(t *testing.T) {
	cli := newTestClient(t, startServer(t), "wrong")

	_, err := cli.Deploy(context.Background(), api.DeployRequest{Project: "demo"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestGetRunNotFound(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)

	_, err := cli.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRunNotFound)
}

func TestProjectStatus(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acc, err := cli.Deploy(ctx, api.DeployRequest{Project: "demo"})
	require.NoError(t, err)
	_, err = cli.WaitForRun(ctx, acc.RunID, 20*time.Millisecond)
	require.NoError(t, err)

	status, err := cli.ProjectStatus(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", status.Project)
	require.Len(t, status.Units, 2)
	for _, unit := range status.Units {
		assert.Equal(t, acc.RunID, unit.RunID)
		assert.NotEmpty(t, unit.ConfigHash)
	}

	_, err = cli.ProjectStatus(ctx, "ghost")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestLogsStreamsUntilRunFinishes(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acc, err := cli.Deploy(ctx, api.DeployRequest{Project: "demo"})
	require.NoError(t, err)

	rc, err := cli.Logs(ctx, acc.RunID)
	require.NoError(t, err)
	defer rc.Close()

	var lines []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), string(events.EventRunSucceeded))

	run, err := cli.GetRun(ctx, acc.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(types.RunSucceeded), run.Status)
}

func TestLogsUnknownRun(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)

	_, err := cli.Logs(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRunNotFound)
}

func TestDecodeErrorFallsBackToStatus(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Status:     "502 Bad Gateway",
		Body:       http.NoBody,
	}
	err := decodeError(resp)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, strings.Contains(apiErr.Message, "502"))
}

func TestTokenHeaderSent(t *testing.T) {
	got := make(chan string, 1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(tokenHeader)
		w.WriteHeader(http.StatusNotFound)
	})}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	cli := newTestClient(t, "http://"+ln.Addr().String(), "s3cret")
	_, err = cli.GetRun(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "s3cret", <-got)
}

func TestWaitForRunHonorsContext(t *testing.T) {
	cli := newTestClient(t, startServer(t), testToken)

	acc, err := cli.Deploy(context.Background(), api.DeployRequest{Project: "demo"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cli.WaitForRun(ctx, acc.RunID, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
