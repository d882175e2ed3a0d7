package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whatif-backend/internal/cache"
	"whatif-backend/internal/metrics"
	"whatif-backend/internal/model"
	"whatif-backend/internal/store"
)

// ErrBusy 已有模拟在进行中
var ErrBusy = errors.New("a simulation is already in progress")

// Engine is the subset of the simulation client the service needs.
type Engine interface {
	Submit(ctx context.Context, req model.SimulationRequest) (*model.SimulationResponse, error)
	SeedDemoData(ctx context.Context) error
	Health(ctx context.Context) error
}

// RunStore 运行记录存储
type RunStore interface {
	Record(ctx context.Context, engineRunID, title, decisionText string, inputs, output any) (int64, error)
	List(ctx context.Context, limit int) ([]store.RunSummary, error)
	Get(ctx context.Context, engineRunID string) (*store.Run, error)
	Ping(ctx context.Context) error
}

// sessionIdleTTL is how long an unused session keeps its latest result.
const sessionIdleTTL = 24 * time.Hour

type sessionCtxKey struct{}

// WithSession tags ctx with the caller's session id. Busy state and the latest
// result are tracked per session; calls without one share the "" session.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionFrom 读取 context 中的会话标识
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// session 单个调用方的状态
type session struct {
	busy     sync.Mutex
	latest   *metrics.View
	lastUsed time.Time
}

// Options 服务可选配置
type Options struct {
	Store    RunStore       // nil disables the audit log
	Cache    cache.Provider // nil disables result caching
	Timeout  time.Duration  // per-call engine timeout, 0 for none
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// SimulationService sequences engine calls for each presentation session.
// A session has at most one submission in flight and keeps its last
// successful result until another submission succeeds.
type SimulationService struct {
	engine   Engine
	store    RunStore
	cache    cache.Provider
	timeout  time.Duration
	cacheTTL time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]*session
	lastSweep time.Time
}

func NewSimulationService(engine Engine, opts Options) *SimulationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulationService{
		engine:   engine,
		store:    opts.Store,
		cache:    opts.Cache,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
		log:      logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Simulate validates and submits req. Engine errors are returned unchanged so
// callers can show their message verbatim.
func (s *SimulationService) Simulate(ctx context.Context, req model.SimulationRequest) (*metrics.View, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess := s.session(ctx)
	if !sess.busy.TryLock() {
		return nil, ErrBusy
	}
	defer sess.busy.Unlock()

	return s.simulateLocked(ctx, sess, req)
}

// LoadDemo seeds the engine's demo data, then simulates req.
func (s *SimulationService) LoadDemo(ctx context.Context, req model.SimulationRequest) (*metrics.View, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess := s.session(ctx)
	if !sess.busy.TryLock() {
		return nil, ErrBusy
	}
	defer sess.busy.Unlock()

	seedCtx, cancel := s.withTimeout(ctx)
	err := s.engine.SeedDemoData(seedCtx)
	cancel()
	if err != nil {
		s.log.Warn("demo seed failed", "error", err)
		return nil, err
	}
	s.log.Info("demo data seeded")

	return s.simulateLocked(ctx, sess, req)
}

func (s *SimulationService) simulateLocked(ctx context.Context, sess *session, req model.SimulationRequest) (*metrics.View, error) {
	start := time.Now()
	callCtx, cancel := s.withTimeout(ctx)
	resp, err := s.engine.Submit(callCtx, req)
	cancel()
	if err != nil {
		s.log.Warn("simulation failed", "title", req.Title, "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	view := metrics.BuildView(resp)
	s.log.Info("simulation completed",
		"run_id", resp.RunID,
		"scenarios", len(resp.Scenarios),
		"best", view.Best,
		"elapsed", time.Since(start),
	)

	if s.store != nil {
		if _, err := s.store.Record(ctx, resp.RunID, req.Title, req.DecisionText, req, resp); err != nil {
			s.log.Error("failed to record run", "run_id", resp.RunID, "error", err)
		}
	}
	s.cacheView(ctx, view)

	s.mu.Lock()
	sess.latest = &view
	s.mu.Unlock()

	return &view, nil
}

// Latest 返回当前会话最近一次成功的结果
func (s *SimulationService) Latest(ctx context.Context) (*metrics.View, bool) {
	sess := s.session(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.latest, sess.latest != nil
}

// Busy reports whether the caller's session has a submission in flight.
func (s *SimulationService) Busy(ctx context.Context) bool {
	sess := s.session(ctx)
	if sess.busy.TryLock() {
		sess.busy.Unlock()
		return false
	}
	return true
}

// session returns the caller's session, creating it on first use. Idle
// sessions are swept at most once per hour.
func (s *SimulationService) session(ctx context.Context) *session {
	id := SessionFrom(ctx)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= time.Hour {
		s.lastSweep = now
		for key, old := range s.sessions {
			if key == id || now.Sub(old.lastUsed) < sessionIdleTTL {
				continue
			}
			if old.busy.TryLock() {
				old.busy.Unlock()
				delete(s.sessions, key)
			}
		}
	}

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.lastUsed = now
	return sess
}

// Runs 本地运行记录，最新在前
func (s *SimulationService) Runs(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if s.store == nil {
		return []store.RunSummary{}, nil
	}
	if limit <= 0 || limit > store.DefaultListLimit {
		limit = store.DefaultListLimit
	}
	return s.store.List(ctx, limit)
}

// Run returns the derived view of a past run, from the cache when possible.
func (s *SimulationService) Run(ctx context.Context, engineRunID string) (*metrics.View, error) {
	if s.cache != nil {
		var view metrics.View
		err := s.cache.Get(ctx, cache.RunKey(engineRunID), &view)
		if err == nil {
			return &view, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("cache read failed", "run_id", engineRunID, "error", err)
		}
	}

	if s.store == nil {
		return nil, store.ErrNotFound
	}
	run, err := s.store.Get(ctx, engineRunID)
	if err != nil {
		return nil, err
	}
	var resp model.SimulationResponse
	if err := json.Unmarshal(run.Output, &resp); err != nil {
		return nil, fmt.Errorf("decode stored run %s: %w", engineRunID, err)
	}

	view := metrics.BuildView(&resp)
	s.cacheView(ctx, view)
	return &view, nil
}

// Ready checks the engine health endpoint and the audit store connection.
func (s *SimulationService) Ready(ctx context.Context) error {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.engine.Health(callCtx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if s.store != nil {
		if err := s.store.Ping(callCtx); err != nil {
			return fmt.Errorf("run store: %w", err)
		}
	}
	return nil
}

func (s *SimulationService) cacheView(ctx context.Context, view metrics.View) {
	if s.cache == nil || view.RunID == "" {
		return
	}
	if err := s.cache.Set(ctx, cache.RunKey(view.RunID), view, s.cacheTTL); err != nil {
		s.log.Warn("cache write failed", "run_id", view.RunID, "error", err)
	}
}

func (s *SimulationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
