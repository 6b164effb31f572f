// Package backtest 驱动一次完整的回测：下载校验 → 容器执行 → 结果回收。
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ftpilot/internal/config"
	"ftpilot/internal/ftlog"
	"ftpilot/internal/gateway/docker"
	"ftpilot/internal/logger"
	"ftpilot/internal/verify"
)

// Gateway 抽象容器调用，测试时用假实现替换。
type Gateway interface {
	Run(ctx context.Context, service string, args []string) (*ftlog.Summary, error)
}

// Verifier 抽象数据校验。
type Verifier interface {
	VerifyDownload(execResult *ftlog.Summary, expectedFiles []string, dateRange string, timeframes []string) verify.Result
}

// Store 是任务状态的最小写入面：单字段原子更新。
type Store interface {
	UpdateStatus(ctx context.Context, id, status string) error
	SetProgress(ctx context.Context, id, marker string) error
	MarkFailed(ctx context.Context, id, kind, message string) error
	MarkFinished(ctx context.Context, id string, result json.RawMessage, warnings []string) error
}

// Orchestrator 按 queued → downloading_data → running → {finished|failed}
// 推进单个任务。同一任务同一时刻只允许一个 Orchestrator 运行。
type Orchestrator struct {
	cfg      *config.FreqtradeConfig
	gateway  Gateway
	verifier Verifier
	store    Store
}

func NewOrchestrator(cfg *config.FreqtradeConfig, gw Gateway, vf Verifier, store Store) *Orchestrator {
	return &Orchestrator{cfg: cfg, gateway: gw, verifier: vf, store: store}
}

// Run 执行整条流水线。任何阶段失败只捕获一次：
// 先把类别与信息落到任务上，再把错误原样抛回调用方。
func (o *Orchestrator) Run(ctx context.Context, req Request) (*ResultEnvelope, error) {
	if serr := o.validate(req); serr != nil {
		return nil, o.fail(ctx, req.JobID, serr)
	}

	o.transition(ctx, req.JobID, StatusDownloading)
	downloadRes, serr := o.ensureData(ctx, req)
	if serr != nil {
		// 数据没校验通过绝不起回测
		return nil, o.fail(ctx, req.JobID, serr)
	}
	warnings := downloadRes.Warnings

	o.transition(ctx, req.JobID, StatusRunning)
	payload, runWarnings, serr := o.runBacktest(ctx, req)
	if serr != nil {
		return nil, o.fail(ctx, req.JobID, serr)
	}
	warnings = append(warnings, runWarnings...)

	if err := o.store.MarkFinished(ctx, req.JobID, payload, warnings); err != nil {
		// 落库失败也要把任务推到终态，不能让它永远停在 running
		return nil, o.fail(ctx, req.JobID, &StageError{
			Kind:    KindPersistence,
			Message: fmt.Sprintf("结果落库失败: %v", err),
			Cause:   err,
		})
	}
	logger.Infof("回测完成 job=%s strategy=%s warnings=%d", req.JobID, req.StrategyFile, len(warnings))
	return &ResultEnvelope{
		State:      StatusFinished,
		JobID:      req.JobID,
		StrategyID: strategyID(req.StrategyFile),
	}, nil
}

// validate 快速失败：不合法的输入不产生任何容器副作用。
func (o *Orchestrator) validate(req Request) *StageError {
	switch {
	case len(req.Pairs) == 0:
		return &StageError{Kind: KindInvalidInput, Message: "pairs 不能为空"}
	case len(req.Timeframes) == 0:
		return &StageError{Kind: KindInvalidInput, Message: "timeframes 不能为空"}
	case req.DateRange == "":
		return &StageError{Kind: KindInvalidInput, Message: "date_range 不能为空"}
	case req.StrategyFile == "":
		return &StageError{Kind: KindInvalidInput, Message: "strategy 不能为空"}
	}
	strategyPath := filepath.Join(o.cfg.StrategiesDir(), req.StrategyFile)
	if _, err := os.Stat(strategyPath); err != nil {
		return &StageError{Kind: KindInvalidInput, Message: fmt.Sprintf("策略文件不存在: %s", req.StrategyFile)}
	}
	return nil
}

// ensureData 先做幂等预检：数据已齐就直接跳过下载。
// 否则调容器下载并复检，复检的硬失败带着校验器的类别上抛。
func (o *Orchestrator) ensureData(ctx context.Context, req Request) (*verify.Result, *StageError) {
	expected, err := verify.ExpectedFiles(req.Pairs, req.Timeframes, o.cfg.TradingMode, o.cfg.DataFormat)
	if err != nil {
		return nil, &StageError{Kind: KindInvalidInput, Message: err.Error()}
	}

	pre := o.verifier.VerifyDownload(nil, expected, req.DateRange, req.Timeframes)
	if pre.Success {
		logger.Infof("行情数据已就绪，跳过下载 job=%s files=%d", req.JobID, len(pre.VerifiedFiles))
		return &pre, nil
	}

	args := []string{
		"download-data",
		"--datadir", o.cfg.DataDir,
		"--pairs",
	}
	args = append(args, req.Pairs...)
	args = append(args, "--timeframes")
	args = append(args, req.Timeframes...)
	args = append(args,
		"--timerange", req.DateRange,
		"--exchange", o.cfg.Exchange,
		"--trading-mode", o.cfg.TradingMode,
		"--data-format-ohlcv", o.cfg.DataFormat,
	)

	summary, err := o.gateway.Run(ctx, o.cfg.Service, args)
	if err != nil {
		return nil, execStageError(err)
	}

	post := o.verifier.VerifyDownload(summary, expected, req.DateRange, req.Timeframes)
	if !post.Success {
		return nil, &StageError{Kind: string(post.ErrorKind), Message: post.ErrorMessage}
	}
	return &post, nil
}

// runBacktest 调引擎跑回测并回收结果产物。
func (o *Orchestrator) runBacktest(ctx context.Context, req Request) (json.RawMessage, []string, *StageError) {
	exportName := fmt.Sprintf("backtest_%s.json", uuid.NewString())
	// 结果目录按任务隔离，结束后整体清掉
	containerExport := path.Join("user_data", "backtest_results", req.JobID, exportName)
	hostResultsDir := filepath.Join(o.cfg.ResultsDir(), req.JobID)

	args := []string{
		"backtesting",
		"--datadir", o.cfg.DataDir,
		"--strategy", strategyID(req.StrategyFile),
		"--timerange", req.DateRange,
		"--export", "trades",
		"--export-filename", containerExport,
	}

	summary, err := o.gateway.Run(ctx, o.cfg.Service, args)
	if err != nil {
		return nil, nil, execStageError(err)
	}
	if n := summary.TotalWarnings; n > 0 {
		logger.Warnf("回测结束但有 %d 条引擎警告 job=%s", n, req.JobID)
		for _, w := range summary.Warnings {
			logger.Warnf("%s: %s", w.Name, w.Message)
		}
	}

	// 引擎未必使用我们给的导出名，真实文件名从日志里找
	resultName := extractResultName(summary)
	if resultName == "" {
		// 零错误但找不到产物同样算失败，不能静默当成功
		return nil, nil, &StageError{
			Kind:    KindResultNotLocated,
			Message: "回测命令没有报错，但日志里找不到结果文件",
		}
	}

	payload, warnings, serr := parseResultBundle(hostResultsDir, resultName)
	// 无论解包成败，任务级结果目录都要清理
	if err := os.RemoveAll(hostResultsDir); err != nil {
		logger.Warnf("清理结果目录失败 %s: %v", hostResultsDir, err)
	}
	if serr != nil {
		return nil, nil, serr
	}
	return payload, warnings, nil
}

// fail 把失败落到任务上并返回原错误（只捕获这一次）。
func (o *Orchestrator) fail(ctx context.Context, jobID string, serr *StageError) error {
	logger.Errorf("回测失败 job=%s kind=%s: %s", jobID, serr.Kind, serr.Message)
	if err := o.store.MarkFailed(ctx, jobID, serr.Kind, serr.Message); err != nil {
		logger.Errorf("记录失败状态出错 job=%s: %v", jobID, err)
	}
	return serr
}

// transition 同步推进状态与进度标记，落库失败只记日志不阻断流水线。
func (o *Orchestrator) transition(ctx context.Context, jobID, status string) {
	if err := o.store.UpdateStatus(ctx, jobID, status); err != nil {
		logger.Errorf("更新任务状态失败 job=%s status=%s: %v", jobID, status, err)
	}
	if marker, ok := progressFor[status]; ok {
		if err := o.store.SetProgress(ctx, jobID, marker); err != nil {
			logger.Warnf("写进度标记失败 job=%s marker=%s: %v", jobID, marker, err)
		}
	}
}

var progressFor = map[string]string{
	StatusDownloading: ProgressDownloading,
	StatusRunning:     ProgressRunning,
}

// execStageError 把网关错误折叠成带类别的阶段失败。
func execStageError(err error) *StageError {
	var execErr *docker.ExecError
	if errors.As(err, &execErr) {
		return &StageError{Kind: KindExecution, Message: execErr.Message, Cause: err}
	}
	return &StageError{Kind: KindExecution, Message: err.Error(), Cause: err}
}

func strategyID(strategyFile string) string {
	return strings.TrimSuffix(strategyFile, ".py")
}
