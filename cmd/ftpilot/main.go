package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"

	"ftpilot/internal/backtest"
	"ftpilot/internal/config"
	"ftpilot/internal/gateway/database"
	"ftpilot/internal/gateway/docker"
	"ftpilot/internal/logger"
	"ftpilot/internal/verify"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "verify" {
		if err := runVerify(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := runServe(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("ftpilot", flag.ExitOnError)
	cfgPath := fs.String("config", "ftpilot.toml", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level)

	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("打开任务库失败: %w", err)
	}
	defer store.Close()

	gw := docker.NewGateway(&cfg.Freqtrade)
	vf := verify.NewVerifier(cfg.Freqtrade.CommonDataDir(), cfg.Verify.MinGapSize)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch := backtest.NewOrchestrator(&cfg.Freqtrade, gw, vf, store)
	svc := backtest.NewService(ctx, store, orch, cfg.Worker.Concurrency)

	srv, err := backtest.NewHTTPServer(backtest.HTTPConfig{Addr: cfg.Server.Addr, Svc: svc})
	if err != nil {
		return err
	}

	logger.Infof("ftpilot 启动，监听 %s", cfg.Server.Addr)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	// HTTP 已停，等在途任务跑完再退
	logger.Infof("等待在途任务结束…")
	svc.Wait()
	return nil
}

// runVerify 不起服务，直接对本地数据目录做一次完整性校验并打表。
func runVerify(args []string) error {
	fs := flag.NewFlagSet("ftpilot verify", flag.ExitOnError)
	cfgPath := fs.String("config", "ftpilot.toml", "配置文件路径")
	pairs := fs.String("pairs", "", "交易对，逗号分隔，如 BTC/USDT:USDT,ETH/USDT:USDT")
	timeframes := fs.String("timeframes", "1h", "K 线周期，逗号分隔")
	timerange := fs.String("timerange", "", "区间 YYYYMMDD-YYYYMMDD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pairs == "" || *timerange == "" {
		return fmt.Errorf("--pairs 和 --timerange 必填")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level)

	pairList := strings.Split(*pairs, ",")
	tfList := strings.Split(*timeframes, ",")

	expected, err := verify.ExpectedFiles(pairList, tfList, cfg.Freqtrade.TradingMode, cfg.Freqtrade.DataFormat)
	if err != nil {
		return err
	}

	vf := verify.NewVerifier(cfg.Freqtrade.CommonDataDir(), cfg.Verify.MinGapSize)
	res := vf.VerifyDownload(nil, expected, *timerange, tfList)

	if !res.Success {
		return fmt.Errorf("校验失败 [%s]: %s", res.ErrorKind, res.ErrorMessage)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"文件", "应有K线", "实有K线", "覆盖率", "缺口", "多余数据"})
	for _, f := range res.VerifiedFiles {
		info, ok := res.DateRangeInfo[f]
		if !ok {
			t.AppendRow(table.Row{f, "-", "-", "-", "-", "-"})
			continue
		}
		extra := ""
		if info.HasExtraData {
			extra = "是"
		}
		t.AppendRow(table.Row{
			f,
			info.CandlesExpected,
			info.CandlesFound,
			fmt.Sprintf("%.2f%%", info.CoveragePct),
			len(info.Gaps),
			extra,
		})
	}
	t.Render()

	for _, w := range res.Warnings {
		logger.Warnf("%s", w)
	}
	return nil
}
