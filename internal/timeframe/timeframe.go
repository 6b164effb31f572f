// Package timeframe 提供 K 线周期与日期区间的纯函数工具。
package timeframe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidDateRange = errors.New("invalid date range")
)

// durations 固定映射表，与 freqtrade 支持的周期一致。1M 近似为 30 天。
var durations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// Duration 将周期字符串转成 time.Duration。
func Duration(tf string) (time.Duration, error) {
	d, ok := durations[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	return d, nil
}

// ParseRange 解析 "YYYYMMDD-YYYYMMDD" 区间，两端均含；
// 结束日期归一化到当天 23:59:59。
func ParseRange(dateRange string) (time.Time, time.Time, error) {
	parts := strings.Split(dateRange, "-")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q，期望 YYYYMMDD-YYYYMMDD", ErrInvalidDateRange, dateRange)
	}
	start, err := time.Parse("20060102", parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDateRange, dateRange, err)
	}
	end, err := time.Parse("20060102", parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDateRange, dateRange, err)
	}
	end = end.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	return start, end, nil
}

// ExpectedCandles 计算区间内应有的 K 线数量（首尾都算，所以 +1）。
func ExpectedCandles(start, end time.Time, tf string) (int, error) {
	d, err := Duration(tf)
	if err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, nil
	}
	return int(end.Sub(start)/d) + 1, nil
}

// Gap 表示时间序列中一段连续缺失的 K 线。
type Gap struct {
	Start   time.Time
	End     time.Time
	Missing int
}

// FindGaps 扫描相邻时间戳的间隔，缺失数量达到 minGapSize 才上报。
// 序列必须已按时间升序排好；本函数不做排序，避免调用方
// 在大序列上背负一次隐式的 O(n log n)。
func FindGaps(series []time.Time, tf string, minGapSize int) ([]Gap, error) {
	d, err := Duration(tf)
	if err != nil {
		return nil, err
	}
	if minGapSize < 1 {
		minGapSize = 1
	}
	var gaps []Gap
	for i := 1; i < len(series); i++ {
		delta := series[i].Sub(series[i-1])
		if delta <= d {
			continue
		}
		missing := int(delta/d) - 1
		if missing >= minGapSize {
			gaps = append(gaps, Gap{Start: series[i-1], End: series[i], Missing: missing})
		}
	}
	return gaps, nil
}
