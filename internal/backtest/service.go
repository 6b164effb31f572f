package backtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ftpilot/internal/gateway/database"
	"ftpilot/internal/logger"
)

// correlationKey 关联 ID 只放在 context 里随调用链传递，
// 绝不落全局变量，避免并发任务之间互相污染日志归属。
type correlationKey struct{}

// WithCorrelationID 把调用方给的关联 ID 绑到本次任务的 context 上。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 取出 context 里的关联 ID，没有则为空串。
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}

// ServiceStore 在 Orchestrator 所需字段更新之上，补齐任务的增查。
type ServiceStore interface {
	Store
	Insert(ctx context.Context, rec *database.BacktestRecord) error
	Get(ctx context.Context, id string) (*database.BacktestRecord, error)
	List(ctx context.Context) ([]database.BacktestRecord, error)
}

// Service 是任务桥：把 Orchestrator 包装成后台工作单元，
// 用信号量限制并发任务数。任务内部各阶段严格串行。
type Service struct {
	store ServiceStore
	orch  *Orchestrator
	sem   *semaphore.Weighted
	base  context.Context
	wg    sync.WaitGroup
}

func NewService(base context.Context, store ServiceStore, orch *Orchestrator, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Service{
		store: store,
		orch:  orch,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		base:  base,
	}
}

// Submit 建立任务记录并异步执行，立刻返回 queued 状态的快照。
// 已知竞态：两个并发任务请求了重叠的交易对/周期时，可能都观察到
// "数据未下载" 而重复触发下载。freqtrade 会覆盖写同一批文件，
// 只是白做一次工，这里不引入跨任务锁。
func (s *Service) Submit(req Request) (*database.BacktestRecord, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	rec := &database.BacktestRecord{
		ID:            req.JobID,
		Strategy:      req.StrategyFile,
		DateRange:     req.DateRange,
		Status:        StatusQueued,
		CorrelationID: req.CorrelationID,
	}
	if err := s.store.Insert(s.base, rec); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.execute(req)
	return rec, nil
}

// RunBacktest 同步执行一次回测，是任务框架的调用入口。
// 失败时错误原样上抛，重试与否由框架决定，桥本身不管重试策略。
func (s *Service) RunBacktest(ctx context.Context, req Request) (*ResultEnvelope, error) {
	ctx = WithCorrelationID(ctx, req.CorrelationID)
	if err := s.store.SetProgress(ctx, req.JobID, ProgressStarting); err != nil {
		logger.Warnf("写进度标记失败 job=%s: %v", req.JobID, err)
	}
	return s.orch.Run(ctx, req)
}

func (s *Service) execute(req Request) {
	defer s.wg.Done()
	if err := s.sem.Acquire(s.base, 1); err != nil {
		logger.Errorf("任务 %s 等待执行位失败: %v", req.JobID, err)
		_ = s.store.MarkFailed(s.base, req.JobID, KindExecution, err.Error())
		return
	}
	defer s.sem.Release(1)

	start := time.Now()
	logger.Infof("任务开始 job=%s corr=%s strategy=%s", req.JobID, req.CorrelationID, req.StrategyFile)

	env, err := s.RunBacktest(s.base, req)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		logger.Errorf("任务失败 job=%s corr=%s 耗时=%s: %v", req.JobID, req.CorrelationID, elapsed, err)
		return
	}
	logger.Infof("任务成功 job=%s corr=%s strategy=%s 耗时=%s", env.JobID, req.CorrelationID, env.StrategyID, elapsed)
}

// Job 返回任务快照。
func (s *Service) Job(ctx context.Context, id string) (*database.BacktestRecord, error) {
	return s.store.Get(ctx, id)
}

// Jobs 返回全部任务，新的在前。
func (s *Service) Jobs(ctx context.Context) ([]database.BacktestRecord, error) {
	return s.store.List(ctx)
}

// Wait 等全部在途任务收尾，只在进程退出时用。
func (s *Service) Wait() { s.wg.Wait() }
