package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/goban-app/katago-server/internal/logging"
)

func testLogger() *logging.Logger {
	l := logging.New("test", "debug", "text")
	l.SetOutput(io.Discard)
	return l
}

// fakeProc stands in for the engine subprocess: in-memory pipes for all
// three streams, with every line the engine under test writes surfaced on
// the queries channel.
type fakeProc struct {
	mu      sync.Mutex
	spawns  int
	stdout  *io.PipeWriter
	stderr  *io.PipeWriter
	queries chan []byte
}

func newFakeProc() *fakeProc {
	return &fakeProc{queries: make(chan []byte, 256)}
}

func (f *fakeProc) spawn() (*procHandle, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	f.mu.Lock()
	f.spawns++
	f.stdout = stdoutW
	f.stderr = stderrW
	f.mu.Unlock()

	go func() {
		sc := bufio.NewScanner(stdinR)
		sc.Buffer(make([]byte, 0, 64*1024), maxResponseLine)
		for sc.Scan() {
			f.queries <- append([]byte(nil), sc.Bytes()...)
		}
	}()

	return &procHandle{stdin: stdinW, stdout: stdoutR, stderr: stderrR}, nil
}

func (f *fakeProc) respond(line string) {
	f.mu.Lock()
	w := f.stdout
	f.mu.Unlock()
	_, _ = w.Write([]byte(line + "\n"))
}

func (f *fakeProc) stderrLine(line string) {
	f.mu.Lock()
	w := f.stderr
	f.mu.Unlock()
	_, _ = w.Write([]byte(line + "\n"))
}

func (f *fakeProc) closeStdout() {
	f.mu.Lock()
	w := f.stdout
	f.mu.Unlock()
	_ = w.Close()
}

func (f *fakeProc) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

// echo answers every analysis query with a minimal valid response. Control
// queries (ping, clear_cache) are swallowed like a real engine whose
// responses nobody waits for.
func (f *fakeProc) echo(t *testing.T) {
	t.Helper()
	go func() {
		for line := range f.queries {
			if gjson.GetBytes(line, "action").Exists() {
				continue
			}
			id := gjson.GetBytes(line, "id").String()
			f.respond(fmt.Sprintf(
				`{"id":%q,"turnNumber":2,"moveInfos":[{"move":"D4","visits":10,"winrate":0.48,"scoreLead":-0.5,"prior":0.2,"order":0,"pv":["D4","Q16"]}],"rootInfo":{"winrate":0.5,"scoreLead":0.1,"utility":0.0,"visits":10,"currentPlayer":"B"}}`,
				id))
		}
	}()
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeProc) {
	t.Helper()
	cfg = cfg.withDefaults()

	fp := newFakeProc()
	e := newEngine(cfg, testLogger(), nil, fp.spawn)
	require.NoError(t, e.startProcess())
	go e.supervise()
	t.Cleanup(e.Close)
	return e, fp
}

func TestAnalyzeHappyPath(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 2 * time.Second})
	fp.echo(t)

	resp, err := e.Analyze(context.Background(), &Request{
		ID:         "req-1",
		Moves:      []string{"D4", "Q16"},
		BoardXSize: 19,
		BoardYSize: 19,
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", resp.ID)
	require.NotEmpty(t, resp.MoveInfos)
	require.NotNil(t, resp.RootInfo)
	assert.Contains(t, []string{"B", "W"}, resp.RootInfo.CurrentPlayer)
	assert.Equal(t, 0, e.pending.size())
}

func TestAnalyzeTimeout(t *testing.T) {
	e, _ := newTestEngine(t, Config{QueryTimeout: 100 * time.Millisecond})
	// No responder: the engine never replies.

	start := time.Now()
	_, err := e.Analyze(context.Background(), &Request{
		Moves:      []string{"D4"},
		BoardXSize: 19,
		BoardYSize: 19,
	})
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)

	// The pending entry is gone by the time the call returns.
	assert.Equal(t, 0, e.pending.size())
	assert.True(t, e.IsAlive(), "timeout must not kill the engine")
}

func TestAnalyzeConcurrentFanOut(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 5 * time.Second})
	fp.echo(t)

	const n = 50
	var wg sync.WaitGroup
	results := make(chan string, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("fan-%d", i)
			resp, err := e.Analyze(context.Background(), &Request{
				ID:         id,
				Moves:      []string{"D4"},
				BoardXSize: 19,
				BoardYSize: 19,
			})
			if err != nil {
				errs <- fmt.Errorf("%s: %w", id, err)
				return
			}
			if resp.ID != id {
				errs <- fmt.Errorf("response id %q for request %q", resp.ID, id)
				return
			}
			results <- resp.ID
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	got := make(map[string]bool)
	for id := range results {
		got[id] = true
	}
	assert.Len(t, got, n, "every request id answered exactly once")
	assert.Equal(t, 0, e.pending.size())
}

func TestAnalyzeDuplicateID(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 2 * time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		// First request parks until we respond.
		_, err := e.Analyze(context.Background(), &Request{
			ID: "same", Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
		})
		assert.NoError(t, err)
	}()

	// Wait for the first query to reach the engine.
	<-fp.queries

	_, err := e.Analyze(context.Background(), &Request{
		ID: "same", Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
	})
	assert.Equal(t, CodeDuplicateID, CodeOf(err))

	fp.respond(`{"id":"same","turnNumber":1,"moveInfos":[],"rootInfo":{"winrate":0.5,"scoreLead":0,"visits":1,"currentPlayer":"W"}}`)
	<-done
}

func TestAnalyzeEngineError(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 2 * time.Second})

	go func() {
		line := <-fp.queries
		id := gjson.GetBytes(line, "id").String()
		fp.respond(fmt.Sprintf(`{"id":%q,"error":"could not parse query"}`, id))
	}()

	_, err := e.Analyze(context.Background(), &Request{
		Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
	})
	require.Error(t, err)
	assert.Equal(t, CodeEngineError, CodeOf(err))
	assert.Contains(t, err.Error(), "could not parse query")
	assert.True(t, e.IsAlive(), "engine errors leave the engine running")
}

func TestAnalyzeEngineDeathDuringRequest(t *testing.T) {
	e, fp := newTestEngine(t, Config{
		QueryTimeout:      5 * time.Second,
		KeepaliveInterval: time.Hour, // keep the supervisor out of this test
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Analyze(context.Background(), &Request{
			Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
		})
		errCh <- err
	}()

	// Once the query is in flight, the engine dies.
	<-fp.queries
	fp.closeStdout()

	select {
	case err := <-errCh:
		assert.Equal(t, CodeEngineDead, CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not cancelled after engine death")
	}

	assert.False(t, e.IsAlive())
	assert.Equal(t, 0, e.pending.size())

	// Fail-fast path: with liveness false no new request reaches the table.
	_, err := e.Analyze(context.Background(), &Request{Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19})
	assert.Equal(t, CodeEngineDead, CodeOf(err))
}

func TestSupervisedRestart(t *testing.T) {
	e, fp := newTestEngine(t, Config{
		QueryTimeout:      2 * time.Second,
		KeepaliveInterval: 20 * time.Millisecond,
		RestartBackoff:    10 * time.Millisecond,
		InitWait:          10 * time.Millisecond,
		MaxRestarts:       5,
	})
	fp.echo(t)

	require.True(t, e.IsAlive())
	fp.closeStdout()

	require.Eventually(t, func() bool { return !e.IsAlive() }, time.Second, 5*time.Millisecond,
		"death not observed")

	// The supervisor restarts the engine without external intervention.
	require.Eventually(t, func() bool { return e.IsAlive() }, 3*time.Second, 10*time.Millisecond,
		"engine not restarted")
	assert.GreaterOrEqual(t, fp.spawnCount(), 2)

	// A fresh request against the new incarnation completes normally.
	resp, err := e.Analyze(context.Background(), &Request{
		ID: "after-restart", Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
	})
	require.NoError(t, err)
	assert.Equal(t, "after-restart", resp.ID)
}

func TestRestartCapReached(t *testing.T) {
	failing := 0
	var mu sync.Mutex
	fp := newFakeProc()

	cfg := Config{
		QueryTimeout:      time.Second,
		KeepaliveInterval: 10 * time.Millisecond,
		RestartBackoff:    time.Millisecond,
		InitWait:          time.Millisecond,
		MaxRestarts:       2,
	}.withDefaults()

	e := newEngine(cfg, testLogger(), nil, func() (*procHandle, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing > 0 {
			failing++
			return nil, newError(CodeStartFailed, "spawn refused")
		}
		return fp.spawn()
	})
	require.NoError(t, e.startProcess())
	go e.supervise()
	t.Cleanup(e.Close)

	mu.Lock()
	failing = 1
	mu.Unlock()
	fp.closeStdout()

	// The supervisor attempts at most MaxRestarts spawns, then surrenders
	// but keeps observing.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	attempts := failing - 1
	mu.Unlock()
	assert.Equal(t, cfg.MaxRestarts, attempts)
	assert.False(t, e.IsAlive())

	_, err := e.Analyze(context.Background(), &Request{Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19})
	assert.Equal(t, CodeEngineDead, CodeOf(err))
}

func TestOrphanResponseIgnored(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 2 * time.Second})

	fp.respond(`{"id":"nobody","moveInfos":[]}`)
	fp.respond(`not json at all`)
	fp.respond(`{"noId":true}`)

	// The demultiplexer must survive all three and keep routing.
	fp.echo(t)
	resp, err := e.Analyze(context.Background(), &Request{
		ID: "real", Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
	})
	require.NoError(t, err)
	assert.Equal(t, "real", resp.ID)
	assert.Equal(t, 0, e.pending.size())
}

func TestPingTransparency(t *testing.T) {
	e, fp := newTestEngine(t, Config{
		QueryTimeout:      2 * time.Second,
		KeepaliveInterval: 15 * time.Millisecond,
	})

	// Observe at least one ping on the wire.
	deadline := time.After(2 * time.Second)
observe:
	for {
		select {
		case line := <-fp.queries:
			if gjson.GetBytes(line, "action").String() == "query_version" &&
				gjson.GetBytes(line, "id").String() == pingID {
				break observe
			}
		case <-deadline:
			t.Fatal("no keepalive ping observed")
		}
	}

	// Pings register no waiter and leave the engine healthy.
	assert.Equal(t, 0, e.pending.size())
	assert.True(t, e.IsAlive())

	// A ping response with the reserved id is discarded as an orphan.
	fp.respond(fmt.Sprintf(`{"id":%q,"version":"1.15.3"}`, pingID))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, e.pending.size())
	assert.True(t, e.IsAlive())
}

func TestVersionFromStderrBanner(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: time.Second})

	assert.Equal(t, "unknown", e.Version())

	fp.stderrLine("KataGo v1.15.3")
	fp.stderrLine("Model name: kata1-b28c512nbt")

	require.Eventually(t, func() bool { return e.Version() == "1.15.3" },
		time.Second, 5*time.Millisecond)

	v, err := e.QueryVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.15.3", v)
}

func TestClearCacheDeadEngine(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: time.Second, KeepaliveInterval: time.Hour})
	fp.closeStdout()

	require.Eventually(t, func() bool { return !e.IsAlive() }, time.Second, 5*time.Millisecond)
	err := e.ClearCache(context.Background())
	assert.Equal(t, CodeEngineDead, CodeOf(err))
}

func TestClearCacheWritesAction(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: time.Second})

	require.NoError(t, e.ClearCache(context.Background()))

	select {
	case line := <-fp.queries:
		var cq controlQuery
		require.NoError(t, json.Unmarshal(line, &cq))
		assert.Equal(t, "clear_cache", cq.Action)
		assert.NotEmpty(t, cq.ID)
		assert.NotEqual(t, pingID, cq.ID)
	case <-time.After(time.Second):
		t.Fatal("clear_cache never reached the engine")
	}
}

func TestCloseKillsWaiters(t *testing.T) {
	e, fp := newTestEngine(t, Config{QueryTimeout: 5 * time.Second, KeepaliveInterval: time.Hour})

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Analyze(context.Background(), &Request{
			Moves: []string{"D4"}, BoardXSize: 19, BoardYSize: 19,
		})
		errCh <- err
	}()
	<-fp.queries

	e.Close()

	select {
	case err := <-errCh:
		assert.Equal(t, CodeEngineDead, CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("waiter survived Close")
	}
	assert.False(t, e.IsAlive())
}
