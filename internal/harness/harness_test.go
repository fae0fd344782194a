package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/comm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/sandbox"
	"github.com/mavleo96/remote-test-harness/internal/transfer"
	"github.com/stretchr/testify/require"
)

const localEndpoint = "http://127.0.0.1:0/ICommunicator"

var artifacts = map[string]string{
	"td1.go": `package main

func NewTestDriver() (func() bool, func() string) {
	return func() bool { return Add(2, 3) == 5 && Twice(2) == 4 }, func() string { return "td1 ran" }
}
`,
	"t1.go": `package main

func Add(a, b int) int { return a + b }
`,
	"t2.go": `package main

func Twice(a int) int { return Add(a, a) }
`,
	"panics.go": `package main

func NewTestDriver() (func() bool, func() string) {
	return func() bool { panic("boom") }, func() string { return "panicked" }
}
`,
}

func TestMain(m *testing.M) {
	if os.Getenv(sandbox.ChildEnv) == "1" {
		os.Exit(sandbox.ChildMain())
	}
	os.Exit(m.Run())
}

type fixture struct {
	harness  *TestHarness
	comm     *comm.Comm
	client   *comm.Comm
	storeDir string
	staging  string
}

func startHarness(t *testing.T, workers int) *fixture {
	t.Helper()
	storeDir := t.TempDir()
	for name, src := range artifacts {
		require.NoError(t, os.WriteFile(filepath.Join(storeDir, name), []byte(src), 0644))
	}

	srv := transfer.CreateServer(storeDir, transfer.DefaultBlockSize)
	require.NoError(t, srv.Listen("http://127.0.0.1:0/StreamService"))
	t.Cleanup(srv.Close)
	files, err := transfer.CreateClient(srv.Endpoint(), transfer.DefaultBlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { files.Close() })

	hc, err := comm.CreateComm("TestHarness", localEndpoint, comm.WithRetryDelay(10*time.Millisecond))
	require.NoError(t, err)
	client, err := comm.CreateComm("Client", localEndpoint, comm.WithRetryDelay(10*time.Millisecond))
	require.NoError(t, err)

	exe, err := os.Executable()
	require.NoError(t, err)
	spawner := &sandbox.Spawner{Command: []string{exe}, Env: []string{sandbox.ChildEnv + "=1"}}

	staging := t.TempDir()
	h := CreateTestHarness(config.HarnessConfig{Workers: workers, StagingDir: staging}, hc, files, files, spawner)
	h.Start(context.Background())
	t.Cleanup(func() {
		h.Stop()
		h.Wait()
		hc.Close()
		client.Close()
	})
	return &fixture{harness: h, comm: hc, client: client, storeDir: storeDir, staging: staging}
}

func (f *fixture) submit(t *testing.T, tests ...models.TestElement) string {
	t.Helper()
	body, err := (&models.TestRequest{Author: "Fawcett", Tests: tests}).Body()
	require.NoError(t, err)
	msg := models.MakeTestRequest("Fawcett", f.client.Endpoint(), f.comm.Endpoint(), body)
	msg.ClientName = "Client"
	f.client.PostMessage(msg)
	return msg.ID
}

func (f *fixture) awaitResults(t *testing.T) (*models.Message, *models.TestResultSet) {
	t.Helper()
	got := make(chan *models.Message, 1)
	go func() { got <- f.client.GetMessage() }()
	select {
	case msg := <-got:
		require.Equal(t, models.TestResultsType, msg.Type)
		set, err := models.ParseTestResults(msg.Body)
		require.NoError(t, err)
		return msg, set
	case <-time.After(30 * time.Second):
		t.Fatal("no reply from the harness")
		return nil, nil
	}
}

func TestScenarioPassingDriver(t *testing.T) {
	f := startHarness(t, 2)
	id := f.submit(t, models.TestElement{Name: "test1", Driver: "td1.go", Libraries: []string{"t1.go", "t2.go"}})

	msg, set := f.awaitResults(t)
	require.Equal(t, id, msg.ReplyTo)
	require.Equal(t, Author, msg.Author)
	require.Equal(t, f.comm.Endpoint(), msg.From)
	require.Equal(t, "Client", msg.ToName)
	require.Len(t, set.Results, 1)
	require.Equal(t, "test1", set.Results[0].TestName)
	require.Equal(t, models.Passed, set.Results[0].Status)
	require.Equal(t, "td1 ran", set.Results[0].Log)

	// the record is persisted under the test key
	require.Equal(t, []string{set.TestKey + ".txt"}, msg.Files)
	record, err := os.ReadFile(filepath.Join(f.storeDir, msg.Files[0]))
	require.NoError(t, err)
	require.Contains(t, string(record), "test1\npassed\ntd1 ran\n")
}

func TestScenarioMissingDriver(t *testing.T) {
	f := startHarness(t, 2)
	f.submit(t, models.TestElement{Name: "test1", Driver: "nothere.go", Libraries: []string{"t1.go"}})

	_, set := f.awaitResults(t)
	require.Equal(t, []models.TestResult{
		{TestName: "test1", Status: models.Failed, Log: sandbox.NotLoadedLog},
	}, set.Results)
}

func TestFaultContainment(t *testing.T) {
	f := startHarness(t, 1)
	f.submit(t,
		models.TestElement{Name: "panics", Driver: "panics.go"},
		models.TestElement{Name: "test1", Driver: "td1.go", Libraries: []string{"t1.go", "t2.go"}},
	)

	_, set := f.awaitResults(t)
	require.Len(t, set.Results, 2)
	require.Equal(t, models.Failed, set.Results[0].Status)
	require.Equal(t, models.Passed, set.Results[1].Status)
}

func TestMalformedRequestStillReplies(t *testing.T) {
	f := startHarness(t, 1)
	msg := models.MakeTestRequest("Fawcett", f.client.Endpoint(), f.comm.Endpoint(), "<testRequest><test>")
	f.client.PostMessage(msg)

	reply, set := f.awaitResults(t)
	require.Empty(t, reply.Files)
	require.Len(t, set.Results, 1)
	require.Equal(t, models.Failed, set.Results[0].Status)
}

func TestConcurrentRequestsGetDistinctKeys(t *testing.T) {
	const requests = 4
	f := startHarness(t, requests)
	for range requests {
		f.submit(t, models.TestElement{Name: "test1", Driver: "td1.go", Libraries: []string{"t1.go", "t2.go"}})
	}

	keys := make(map[string]bool)
	for range requests {
		_, set := f.awaitResults(t)
		require.Equal(t, models.Passed, set.Results[0].Status)
		keys[set.TestKey] = true
	}
	require.Len(t, keys, requests)

	// staging directories are removed once results are collected
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMakeKeyUnique(t *testing.T) {
	h := CreateTestHarness(config.HarnessConfig{Workers: 1}, nil, nil, nil, nil)

	var mu sync.Mutex
	var wg sync.WaitGroup
	keys := make(map[string]bool)
	for worker := range 8 {
		wg.Go(func() {
			for range 100 {
				key := h.makeKey("Fawcett", worker)
				mu.Lock()
				keys[key] = true
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	require.Len(t, keys, 800)
	require.Regexp(t, `^Fawcett_\d+_\d+_\d{4}_\d{2}_\d{2}_\d{2}_\d{6}_Worker3_\d+$`, h.makeKey("Fawcett", 3))
	require.Regexp(t, `^a-b_`, h.makeKey("a/b", 1))
	require.Regexp(t, `^anonymous_`, h.makeKey("", 1))
}

func TestQuitStopsAllWorkers(t *testing.T) {
	f := startHarness(t, 3)
	f.submit(t, models.TestElement{Name: "test1", Driver: "td1.go", Libraries: []string{"t1.go", "t2.go"}})
	f.client.PostMessage(models.MakeQuitMessage(f.client.Endpoint(), f.comm.Endpoint()))

	done := make(chan struct{})
	go func() {
		f.harness.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("workers did not stop")
	}

	// the request queued ahead of quit was still answered
	_, set := f.awaitResults(t)
	require.Equal(t, models.Passed, set.Results[0].Status)

	// the sentinel is left in the queue for any later worker
	require.Equal(t, 1, f.harness.inbound.Len())
	require.True(t, f.harness.inbound.Dequeue().IsQuit())
}

func TestLifecycle(t *testing.T) {
	lc := newLifecycle("test")
	for _, event := range []string{EventParse, EventStage, EventExecute, EventCollect, EventPersist, EventReply, EventDone} {
		require.NoError(t, lc.Event(event), event)
	}
	require.Equal(t, StateDone, lc.Current())

	lc = newLifecycle("test")
	require.NoError(t, lc.Event(EventParse))
	require.NoError(t, lc.Event(EventFail))
	require.Equal(t, StateFailed, lc.Current())
	require.NoError(t, lc.Event(EventReply))
	require.Error(t, lc.Event(EventFail))
	require.NoError(t, lc.Event(EventDone))
	require.Equal(t, StateDone, lc.Current())
	require.Error(t, lc.Event(EventParse), fmt.Sprintf("from %s", lc.Current()))
}
