// Package engine supervises a KataGo analysis subprocess and multiplexes
// concurrent requests over its line-delimited JSON stdio protocol. One
// Engine owns one child at a time: writes to the child's stdin are
// serialized, stdout lines are routed back to waiters by correlation id,
// stderr is drained for diagnostics, and a supervisor goroutine keeps the
// child alive with periodic pings and bounded restarts.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/goban-app/katago-server/internal/logging"
	"github.com/goban-app/katago-server/internal/metrics"
)

// pingID is reserved for supervisor keepalives. Caller ids must not use it;
// the ping response is discarded by the demultiplexer as an unknown id.
const pingID = "keepalive"

// Ownership and policy vectors make response lines large; a 19x19 board
// with full ownership runs well past bufio's default limit.
const maxResponseLine = 16 << 20

// versionProbeDelay is how long QueryVersion lets the engine settle before
// reporting. The version response carries an id no waiter registered for,
// so success is conditional on the engine staying alive.
const versionProbeDelay = 500 * time.Millisecond

var versionBanner = regexp.MustCompile(`KataGo v([0-9][\w.\-]*)`)

// Engine is the process-wide supervisor for one KataGo analysis subprocess.
type Engine struct {
	cfg   Config
	log   *logging.Logger
	stats *metrics.Metrics
	spawn spawnFunc

	alive   atomic.Bool
	pending *pendingTable
	stdin   *stdinWriter

	procMu sync.Mutex
	proc   *procHandle

	versionMu sync.RWMutex
	version   string

	done      chan struct{}
	closeOnce sync.Once
}

// New spawns the engine and starts supervision. The returned error carries
// ENGINE_START_FAILED when the subprocess could not be launched.
func New(cfg Config, log *logging.Logger, stats *metrics.Metrics) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := newEngine(cfg, log, stats, func() (*procHandle, error) {
		return spawnKatago(cfg)
	})
	if err := e.startProcess(); err != nil {
		return nil, err
	}
	go e.supervise()
	return e, nil
}

func newEngine(cfg Config, log *logging.Logger, stats *metrics.Metrics, spawn spawnFunc) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log,
		stats:   stats,
		spawn:   spawn,
		pending: newPendingTable(),
		stdin:   &stdinWriter{},
		done:    make(chan struct{}),
	}
}

// startProcess spawns a fresh incarnation, installs its streams and starts
// the reader goroutines.
func (e *Engine) startProcess() error {
	p, err := e.spawn()
	if err != nil {
		return err
	}

	e.procMu.Lock()
	e.proc = p
	e.procMu.Unlock()

	e.stdin.reset(p.stdin)
	go e.readOutput(p)
	go e.drainStderr(p)

	e.alive.Store(true)
	e.stats.SetEngineAlive(true)

	e.log.WithFields(map[string]interface{}{
		"binary": e.cfg.Binary,
		"model":  e.cfg.ModelPath,
	}).Info("engine started")
	return nil
}

// readOutput is the demultiplexer: one goroutine per incarnation reading
// stdout line by line and delivering each JSON object to the waiter
// registered for its id. It never writes to the engine.
func (e *Engine) readOutput(p *procHandle) {
	sc := bufio.NewScanner(p.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseLine)

	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)

		if !gjson.ValidBytes(line) {
			e.log.WithFields(map[string]interface{}{"line": truncate(line, 200)}).
				Debug("engine emitted non-JSON line")
			continue
		}
		id := gjson.GetBytes(line, "id")
		if !id.Exists() {
			e.log.WithFields(map[string]interface{}{"line": truncate(line, 200)}).
				Debug("engine response without id")
			continue
		}
		if !e.pending.deliver(id.String(), line) {
			e.log.WithFields(map[string]interface{}{"id": id.String()}).
				Debug("dropping response with no registered waiter")
			e.stats.RecordOrphan()
		}
	}

	// Only the current incarnation's reader may declare the engine dead;
	// a reader unblocked by a supervisor teardown exits quietly.
	e.procMu.Lock()
	current := e.proc == p
	e.procMu.Unlock()
	if !current {
		return
	}

	if err := sc.Err(); err != nil {
		e.log.WithError(err).Warn("engine stdout read failed")
	} else {
		e.log.Warn("engine stdout closed")
	}
	e.markDead()
}

// drainStderr keeps the engine's diagnostic stream from filling its pipe.
// Lines are forwarded at debug level; the startup banner yields the engine
// version. End of stream exits quietly and does not affect liveness.
func (e *Engine) drainStderr(p *procHandle) {
	sc := bufio.NewScanner(p.stderr)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		e.log.WithFields(map[string]interface{}{"stream": "stderr"}).Debug("katago: " + line)

		if m := versionBanner.FindStringSubmatch(line); m != nil {
			e.versionMu.Lock()
			if e.version == "" {
				e.version = m[1]
			}
			e.versionMu.Unlock()
		}
	}
	e.log.Debug("engine stderr closed")
}

// markDead flips the liveness flag, drops the stdin handle and cancels all
// waiters so none can receive a response from a later incarnation.
func (e *Engine) markDead() {
	e.alive.Store(false)
	e.stats.SetEngineAlive(false)
	e.stdin.drop()
	e.pending.drainAll()
}

// send appends one line to the engine's stdin; a write failure transitions
// liveness to false.
func (e *Engine) send(payload []byte) error {
	if err := e.stdin.send(payload); err != nil {
		e.alive.Store(false)
		e.stats.SetEngineAlive(false)
		return err
	}
	return nil
}

func (e *Engine) sendControl(id, action string) error {
	payload, err := json.Marshal(controlQuery{ID: id, Action: action})
	if err != nil {
		return wrapError(CodeIOError, err, "encode control query")
	}
	return e.send(payload)
}

// Analyze submits one analysis query and blocks until its response, the
// configured deadline, engine death, or ctx cancellation.
func (e *Engine) Analyze(ctx context.Context, req *Request) (*Response, error) {
	if !e.alive.Load() {
		return nil, newError(CodeEngineDead, "engine is not running")
	}

	q := buildQuery(req)
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, wrapError(CodeIOError, err, "encode analysis query")
	}

	ch, err := e.pending.register(q.ID)
	if err != nil {
		return nil, err
	}

	e.stats.QueryStarted()
	start := time.Now()

	if err := e.send(payload); err != nil {
		e.pending.cancel(q.ID)
		e.stats.QueryFinished("engine_dead", time.Since(start))
		return nil, err
	}

	timer := time.NewTimer(e.cfg.QueryTimeout)
	defer timer.Stop()

	select {
	case line, ok := <-ch:
		if !ok {
			e.stats.QueryFinished("engine_dead", time.Since(start))
			return nil, newError(CodeEngineDead, "engine died before responding")
		}
		resp, err := decodeResponse(line)
		if err != nil {
			e.stats.QueryFinished("error", time.Since(start))
			return nil, err
		}
		if len(resp.MoveInfos) == 0 && resp.RootInfo == nil {
			e.log.WithFields(map[string]interface{}{"id": q.ID}).
				Warn("engine returned no candidate moves; position may be illegal")
		}
		e.stats.QueryFinished("ok", time.Since(start))
		return resp, nil

	case <-timer.C:
		e.pending.cancel(q.ID)
		e.stats.QueryFinished("timeout", time.Since(start))
		return nil, newError(CodeTimeout, "no response within %d seconds", int(e.cfg.QueryTimeout.Seconds()))

	case <-ctx.Done():
		e.pending.cancel(q.ID)
		e.stats.QueryFinished("canceled", time.Since(start))
		return nil, ctx.Err()
	}
}

func decodeResponse(line []byte) (*Response, error) {
	if errField := gjson.GetBytes(line, "error"); errField.Exists() {
		return nil, newError(CodeEngineError, "%s", errField.String())
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, wrapError(CodeProtocolError, err, "decode engine response")
	}
	return &resp, nil
}

// ClearCache asks the engine to drop its search tree cache. Fire and
// forget: the engine's acknowledgement is discarded by the demultiplexer.
func (e *Engine) ClearCache(ctx context.Context) error {
	if !e.alive.Load() {
		return newError(CodeEngineDead, "engine is not running")
	}
	return e.sendControl(uuid.New().String(), "clear_cache")
}

// QueryVersion issues a version query and reports the version captured from
// the engine's startup banner. No waiter is registered for the response;
// success is conditional on the engine staying alive through a short probe
// delay.
func (e *Engine) QueryVersion(ctx context.Context) (string, error) {
	if !e.alive.Load() {
		return "", newError(CodeEngineDead, "engine is not running")
	}
	if err := e.sendControl(uuid.New().String(), "query_version"); err != nil {
		return "", err
	}

	select {
	case <-time.After(versionProbeDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if !e.alive.Load() {
		return "", newError(CodeEngineDead, "engine died during version query")
	}
	return e.Version(), nil
}

// Version returns the engine version captured from the startup banner, or
// "unknown" before the banner has been seen.
func (e *Engine) Version() string {
	e.versionMu.RLock()
	defer e.versionMu.RUnlock()
	if e.version == "" {
		return "unknown"
	}
	return e.version
}

// IsAlive reports the liveness flag.
func (e *Engine) IsAlive() bool {
	return e.alive.Load()
}

// Close stops supervision, cancels all waiters and kills the child
// unconditionally.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.markDead()
		e.teardown()
	})
}

// teardown detaches and kills the current incarnation, if any.
func (e *Engine) teardown() {
	e.procMu.Lock()
	p := e.proc
	e.proc = nil
	e.procMu.Unlock()
	p.kill()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
