package backtest

import (
	"context"
	"path/filepath"
	"testing"

	"ftpilot/internal/ftlog"
	"ftpilot/internal/verify"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-42")
	if got := CorrelationID(ctx); got != "corr-42" {
		t.Fatalf("CorrelationID = %q", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("空 context 应返回空串, got %q", got)
	}
	// 空 ID 不污染 context
	if ctx := WithCorrelationID(context.Background(), ""); CorrelationID(ctx) != "" {
		t.Fatal("空 ID 不应写入 context")
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	cfg := testFreqtradeConfig(t)
	store := newMemStore()

	gw := &fakeGateway{summaries: []*ftlog.Summary{
		dumpingSummary("backtest_svc.meta.json"),
	}}
	vf := &fakeVerifier{results: []verify.Result{{Success: true}}}
	orch := NewOrchestrator(cfg, gw, vf, store)
	svc := NewService(context.Background(), store, orch, 1)

	req := testRequest()
	writeResultZip(t, filepath.Join(cfg.ResultsDir(), req.JobID), "backtest_svc", map[string]string{
		"backtest_svc.json": `{"ok":true}`,
	})

	rec, err := svc.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != StatusQueued || rec.ID != req.JobID {
		t.Fatalf("queued record = %+v", rec)
	}
	svc.Wait()

	final, err := svc.Job(context.Background(), req.JobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if final.Status != StatusFinished {
		t.Fatalf("status = %s, want %s", final.Status, StatusFinished)
	}
	if final.CorrelationID != "corr-1" {
		t.Fatalf("correlation = %q", final.CorrelationID)
	}
	if len(store.progress) == 0 || store.progress[0] != ProgressStarting {
		t.Fatalf("progress = %v", store.progress)
	}
}

func TestSubmitAssignsJobID(t *testing.T) {
	cfg := testFreqtradeConfig(t)
	store := newMemStore()
	orch := NewOrchestrator(cfg, &fakeGateway{}, &fakeVerifier{results: []verify.Result{{}}}, store)
	svc := NewService(context.Background(), store, orch, 1)

	req := testRequest()
	req.JobID = ""
	req.Pairs = nil // 让任务本身失败，这里只关心 ID 分配
	rec, err := svc.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("未提供 JobID 时应自动分配")
	}
	svc.Wait()

	final, err := svc.Job(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if final.Status != StatusFailed || final.ErrorKind != KindInvalidInput {
		t.Fatalf("final = %+v", final)
	}
}

func TestRunBacktestSyncEntry(t *testing.T) {
	cfg := testFreqtradeConfig(t)
	store := newMemStore()

	gw := &fakeGateway{summaries: []*ftlog.Summary{
		dumpingSummary("backtest_sync.meta.json"),
	}}
	vf := &fakeVerifier{results: []verify.Result{{Success: true}}}
	svc := NewService(context.Background(), store, NewOrchestrator(cfg, gw, vf, store), 1)

	req := testRequest()
	writeResultZip(t, filepath.Join(cfg.ResultsDir(), req.JobID), "backtest_sync", map[string]string{
		"backtest_sync.json": `{}`,
	})

	env, err := svc.RunBacktest(context.Background(), req)
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if env.State != StatusFinished || env.StrategyID != "EmaStrategy" {
		t.Fatalf("envelope = %+v", env)
	}
}
