package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"ftpilot/internal/ftlog"
)

// hourlyFrame 构造整点 K 线帧，skip 指定要抠掉的小时下标。
func hourlyFrame(day time.Time, hours int, skip ...int) *Frame {
	skipped := make(map[int]bool, len(skip))
	for _, h := range skip {
		skipped[h] = true
	}
	f := &Frame{Columns: []string{"date", "open", "high", "low", "close", "volume"}}
	for h := 0; h < hours; h++ {
		if skipped[h] {
			continue
		}
		f.Dates = append(f.Dates, day.Add(time.Duration(h)*time.Hour))
	}
	return f
}

// newTestVerifier 在临时目录下放置假数据文件，并用内存帧替换文件读取。
func newTestVerifier(t *testing.T, frames map[string]*Frame) *Verifier {
	t.Helper()
	root := t.TempDir()
	for rel := range frames {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("stub"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	v := NewVerifier(root, 2)
	v.loadFrame = func(path string) (*Frame, error) {
		for rel, frame := range frames {
			if strings.HasSuffix(path, rel) {
				return frame, nil
			}
		}
		return nil, fmt.Errorf("no frame for %s", path)
	}
	return v
}

var day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVerifyDownloadFullCoverage(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 24)})

	res := v.VerifyDownload(nil, []string{rel}, "20240101-20240101", []string{"1h"})
	if !res.Success {
		t.Fatalf("应通过: %s %s", res.ErrorKind, res.ErrorMessage)
	}
	if len(res.VerifiedFiles) != 1 {
		t.Fatalf("VerifiedFiles = %v", res.VerifiedFiles)
	}
	info := res.DateRangeInfo[res.VerifiedFiles[0]]
	if info.CoveragePct != 100 || info.CandlesExpected != 24 || info.CandlesFound != 24 {
		t.Fatalf("区间信息不符: %+v", info)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("全覆盖不应有警告: %v", res.Warnings)
	}
}

func TestVerifyDownloadExecutionErrorShortCircuits(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 24)})

	summary := &ftlog.Summary{
		Errors:      []ftlog.Entry{{Message: "exchange unavailable"}},
		TotalErrors: 1,
	}
	res := v.VerifyDownload(summary, []string{rel}, "20240101-20240101", []string{"1h"})
	if res.Success || res.ErrorKind != ErrKindDockerExecution {
		t.Fatalf("容器执行出错应短路: %+v", res)
	}
	if len(res.VerifiedFiles) != 0 {
		t.Fatal("失败时 VerifiedFiles 必须为空")
	}
}

func TestVerifyDownloadReportsAllMissingFiles(t *testing.T) {
	rel := "futures/BTC_USDT_USDT-1h-futures.feather"
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 24)})

	expected := []string{
		rel,
		"futures/BTC_USDT_USDT-8h-mark.feather",
		"futures/BTC_USDT_USDT-8h-funding_rate.feather",
	}
	res := v.VerifyDownload(nil, expected, "20240101-20240101", []string{"1h"})
	if res.Success || res.ErrorKind != ErrKindFileVerification {
		t.Fatalf("缺文件应失败: %+v", res)
	}
	// 批量上报：两个缺失文件都要出现在错误信息里
	if !strings.Contains(res.ErrorMessage, "8h-mark") || !strings.Contains(res.ErrorMessage, "8h-funding_rate") {
		t.Fatalf("错误信息应列出全部缺失文件: %s", res.ErrorMessage)
	}
}

func TestVerifyDownloadMissingColumnsIsHardFailure(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	frame := hourlyFrame(day1, 24)
	frame.Columns = []string{"date", "open", "close"}
	v := newTestVerifier(t, map[string]*Frame{rel: frame})

	res := v.VerifyDownload(nil, []string{rel}, "20240101-20240101", []string{"1h"})
	if res.Success || res.ErrorKind != ErrKindDataIntegrity {
		t.Fatalf("缺列应是硬失败: %+v", res)
	}
	for _, col := range []string{"high", "low", "volume"} {
		if !strings.Contains(res.ErrorMessage, col) {
			t.Fatalf("错误信息应点名缺失列 %s: %s", col, res.ErrorMessage)
		}
	}
}

func TestVerifyDownloadInsufficientCandlesIsHardFailure(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 20)})

	res := v.VerifyDownload(nil, []string{rel}, "20240101-20240101", []string{"1h"})
	if res.Success || res.ErrorKind != ErrKindDataIntegrity {
		t.Fatalf("K 线不足应是硬失败: %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "expected 24, found 20") {
		t.Fatalf("错误信息不符: %s", res.ErrorMessage)
	}
}

func TestVerifyDownloadGapsDowngradeToWarnings(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	// 48 根里抠掉中间 2 根，但首尾向外各多一根 → 总数仍达标
	frame := hourlyFrame(day1.Add(-time.Hour), 50, 10, 11)
	v := newTestVerifier(t, map[string]*Frame{rel: frame})

	res := v.VerifyDownload(nil, []string{rel}, "20240101-20240102", []string{"1h"})
	if !res.Success {
		t.Fatalf("缺口只降级为警告，不应失败: %s", res.ErrorMessage)
	}
	info := res.DateRangeInfo[res.VerifiedFiles[0]]
	if len(info.Gaps) != 1 || info.Gaps[0].Missing != 2 {
		t.Fatalf("缺口信息不符: %+v", info.Gaps)
	}
	if !info.HasExtraData {
		t.Fatal("窗口外数据应被标记")
	}
	var hasGapWarn, hasExtraWarn, hasCoverageWarn bool
	for _, w := range res.Warnings {
		switch {
		case strings.Contains(w, "gaps"):
			hasGapWarn = true
		case strings.Contains(w, "beyond requested range"):
			hasExtraWarn = true
		case strings.Contains(w, "coverage"):
			hasCoverageWarn = true
		}
	}
	if !hasGapWarn || !hasExtraWarn || !hasCoverageWarn {
		t.Fatalf("三类软问题都应出现在警告里: %v", res.Warnings)
	}
	if info.CoveragePct >= 100 {
		t.Fatalf("覆盖率应低于 100: %v", info.CoveragePct)
	}
}

func TestVerifyDownloadIsIdempotent(t *testing.T) {
	rel := "spot/BTC_USDT-1h-spot.feather"
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 24)})

	first := v.VerifyDownload(nil, []string{rel}, "20240101-20240101", []string{"1h"})
	second := v.VerifyDownload(nil, []string{rel}, "20240101-20240101", []string{"1h"})
	if first.Success != second.Success || !reflect.DeepEqual(first.VerifiedFiles, second.VerifiedFiles) {
		t.Fatalf("相同磁盘状态下两次校验应一致:\n%+v\n%+v", first, second)
	}
}

func TestVerifyDownloadSkipsRangeCheckForAuxTimeframes(t *testing.T) {
	rel := "futures/BTC_USDT_USDT-8h-funding_rate.feather"
	// 资金费率文件的 8h 不在请求周期里，跳过区间校验，只查 schema
	v := newTestVerifier(t, map[string]*Frame{rel: hourlyFrame(day1, 3)})

	res := v.VerifyDownload(nil, []string{rel}, "20240101-20240107", []string{"1h"})
	if !res.Success {
		t.Fatalf("未匹配周期的文件不应做区间校验: %s", res.ErrorMessage)
	}
	if len(res.DateRangeInfo) != 0 {
		t.Fatalf("不应产生区间信息: %+v", res.DateRangeInfo)
	}
}
