package analysis

import (
	"context"
	"errors"
	"sync"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
	"github.com/sureshkrishnan-v/idsagent/internal/reporter"
)

type fakeEngine struct {
	mu         sync.Mutex
	staticPID  int
	networkPID int
	staticErr  error
	networkErr error
	collectErr error
	pending    []alert.Alert
	collects   int
	networkIf  string
	datasets   []string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Configure(_ context.Context, path string) (string, error) {
	return "configured from " + path, nil
}

func (e *fakeEngine) ConfigureRuleset(context.Context, string) (string, error) {
	return "no ruleset required", nil
}

func (e *fakeEngine) StartStaticScan(_ context.Context, path string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.datasets = append(e.datasets, path)
	return e.staticPID, e.staticErr
}

func (e *fakeEngine) StartNetworkScan(_ context.Context, iface string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.networkIf = iface
	return e.networkPID, e.networkErr
}

func (e *fakeEngine) CollectAlerts(context.Context) ([]alert.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collects++
	if e.collectErr != nil {
		return nil, e.collectErr
	}
	out := e.pending
	e.pending = nil
	if out == nil {
		out = []alert.Alert{}
	}
	return out, nil
}

func (e *fakeEngine) addAlerts(msgs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range msgs {
		e.pending = append(e.pending, alert.Alert{Time: "2024-05-01T10:00:00.000000+0000", Message: alert.Str(m)})
	}
}

func (e *fakeEngine) collectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collects
}

// fakeSupervisor models processes as channels closed on exit.
type fakeSupervisor struct {
	mu         sync.Mutex
	procs      map[int]chan struct{}
	terminated []int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{procs: map[int]chan struct{}{}}
}

func (s *fakeSupervisor) proc(pid int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.procs[pid]
	if !ok {
		ch = make(chan struct{})
		s.procs[pid] = ch
	}
	return ch
}

// exit simulates the process ending on its own.
func (s *fakeSupervisor) exit(pid int) {
	ch := s.proc(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *fakeSupervisor) Terminate(_ context.Context, pid int) {
	s.mu.Lock()
	s.terminated = append(s.terminated, pid)
	s.mu.Unlock()
	s.exit(pid)
}

func (s *fakeSupervisor) AwaitExit(ctx context.Context, pid int) (int, bool) {
	select {
	case <-s.proc(pid):
		return 0, true
	case <-ctx.Done():
		return 0, false
	}
}

func (s *fakeSupervisor) terminatedPIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.terminated...)
}

type fakeNetwork struct {
	mu        sync.Mutex
	ops       []string
	createErr error
	routeErr  error
	mirrorErr error
	mirrorPID int
	links     map[string]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{mirrorPID: 500, links: map[string]bool{}}
}

func (n *fakeNetwork) record(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
}

func (n *fakeNetwork) CreateAndActivate(_ context.Context, name string) error {
	n.record("create " + name)
	if n.createErr != nil {
		return n.createErr
	}
	n.mu.Lock()
	n.links[name] = true
	n.mu.Unlock()
	return nil
}

func (n *fakeNetwork) Destroy(_ context.Context, name string) error {
	n.record("destroy " + name)
	n.mu.Lock()
	delete(n.links, name)
	n.mu.Unlock()
	return nil
}

func (n *fakeNetwork) DefaultInterface(context.Context) (string, error) {
	n.record("route")
	if n.routeErr != nil {
		return "", n.routeErr
	}
	return "eth0", nil
}

func (n *fakeNetwork) StartMirroring(_ context.Context, src, dst string) (int, error) {
	n.record("mirror " + src + "->" + dst)
	if n.mirrorErr != nil {
		return 0, n.mirrorErr
	}
	return n.mirrorPID, nil
}

func (n *fakeNetwork) operations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

func (n *fakeNetwork) linkCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links)
}

type fakeReporter struct {
	mu       sync.Mutex
	batches  []reporter.AlertBatch
	notices  []reporter.FinishedNotice
	fail      bool
	onNotify  func()
	onPublish func()
}

func (r *fakeReporter) PublishAlerts(_ context.Context, b reporter.AlertBatch) bool {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	hook, fail := r.onPublish, r.fail
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return !fail
}

func (r *fakeReporter) AnalysisFinished(_ context.Context, n reporter.FinishedNotice) bool {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	hook := r.onNotify
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return !r.fail
}

func (r *fakeReporter) alertBatches() []reporter.AlertBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporter.AlertBatch(nil), r.batches...)
}

func (r *fakeReporter) finishedNotices() []reporter.FinishedNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporter.FinishedNotice(nil), r.notices...)
}

var errBoom = errors.New("boom")
