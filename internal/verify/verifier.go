package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ftpilot/internal/ftlog"
	"ftpilot/internal/logger"
	"ftpilot/internal/timeframe"
)

// ErrorKind 标记校验失败的类别，供状态机按错误种类转移。
type ErrorKind string

const (
	ErrKindDockerExecution  ErrorKind = "DockerExecutionError"
	ErrKindFileVerification ErrorKind = "FileVerificationError"
	ErrKindDataIntegrity    ErrorKind = "DataIntegrityError"
)

// Error 是带类别标签的校验错误。
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// DataGap 表示数据文件中上报阈值以上的缺失区间。
type DataGap struct {
	Start     time.Time
	End       time.Time
	Missing   int
	Timeframe string
}

// DateRangeInfo 描述单个文件的区间覆盖情况，每次校验现算，不持久化。
type DateRangeInfo struct {
	RequestedStart  time.Time
	RequestedEnd    time.Time
	ActualStart     time.Time
	ActualEnd       time.Time
	CoveragePct     float64
	HasExtraData    bool
	Gaps            []DataGap
	CandlesExpected int
	CandlesFound    int
}

// Result 汇总一次完整校验。
// 不变式：Success 为假时 VerifiedFiles 必为空；
// Success 为真时清单中每个文件都已通过校验。
type Result struct {
	Success       bool
	ErrorKind     ErrorKind
	ErrorMessage  string
	VerifiedFiles []string
	DateRangeInfo map[string]DateRangeInfo
	Warnings      []string
}

// requiredColumns 行情文件必须具备的列。
var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

// Verifier 对下载结果做三段式校验：容器执行 → 文件存在 → 逐文件完整性。
type Verifier struct {
	baseDir    string
	minGapSize int

	// 可注入的文件读取器，测试用假帧替换
	loadFrame func(path string) (*Frame, error)
}

func NewVerifier(baseDir string, minGapSize int) *Verifier {
	if minGapSize <= 0 {
		minGapSize = 2
	}
	return &Verifier{baseDir: baseDir, minGapSize: minGapSize, loadFrame: LoadFrame}
}

// VerifyDownload 执行完整校验。execResult 可为 nil（下载前的幂等预检）。
// 任何一段硬失败立即短路；跨文件的软问题全部并入 Warnings。
func (v *Verifier) VerifyDownload(execResult *ftlog.Summary, expectedFiles []string, dateRange string, timeframes []string) Result {
	if err := v.verifyExecution(execResult); err != nil {
		return failure(err)
	}

	verified, err := v.verifyExistence(expectedFiles)
	if err != nil {
		return failure(err)
	}

	var warnings []string
	rangeInfo := make(map[string]DateRangeInfo)
	for _, path := range verified {
		tf := matchTimeframe(path, timeframes)
		info, err := v.verifyIntegrity(path, dateRange, tf)
		if err != nil {
			return failure(err)
		}
		if info == nil {
			continue
		}
		rangeInfo[path] = *info
		if n := len(info.Gaps); n > 0 {
			warnings = append(warnings, fmt.Sprintf("Found %d gaps in %s", n, path))
		}
		if info.HasExtraData {
			warnings = append(warnings, fmt.Sprintf("Data extends beyond requested range in %s", path))
		}
		if info.CoveragePct < 100 {
			warnings = append(warnings, fmt.Sprintf("Data coverage is %.1f%% in %s", info.CoveragePct, path))
		}
	}

	return Result{
		Success:       true,
		VerifiedFiles: verified,
		DateRangeInfo: rangeInfo,
		Warnings:      warnings,
	}
}

// verifyExecution 第一段：容器日志含 ERROR 即失败，WARNING 只转发不拦截。
func (v *Verifier) verifyExecution(execResult *ftlog.Summary) *Error {
	if execResult == nil {
		return nil
	}
	if execResult.HasCriticalErrors() {
		msg := fmt.Sprintf("container command logged %d errors", execResult.TotalErrors)
		if len(execResult.Errors) > 0 {
			msg = fmt.Sprintf("%s; first: %s", msg, execResult.Errors[0].Message)
		}
		return &Error{Kind: ErrKindDockerExecution, Message: msg}
	}
	for _, w := range execResult.Warnings {
		logger.Warnf("%s: %s", w.Name, w.Message)
	}
	return nil
}

// verifyExistence 第二段：一次性汇总所有缺失文件，而不是碰到第一个就停。
func (v *Verifier) verifyExistence(expectedFiles []string) ([]string, *Error) {
	var verified, missing []string
	for _, rel := range expectedFiles {
		full := filepath.Join(v.baseDir, rel)
		if _, err := os.Stat(full); err != nil {
			missing = append(missing, rel)
			continue
		}
		verified = append(verified, full)
	}
	if len(missing) > 0 {
		return nil, &Error{
			Kind:    ErrKindFileVerification,
			Message: fmt.Sprintf("missing expected files: %s", strings.Join(missing, ", ")),
		}
	}
	return verified, nil
}

// verifyIntegrity 第三段：schema 与 K 线数量是硬失败，
// 缺口和窗口外多余数据降级为警告。
func (v *Verifier) verifyIntegrity(path, dateRange, tf string) (*DateRangeInfo, *Error) {
	frame, err := v.loadFrame(path)
	if err != nil {
		return nil, &Error{Kind: ErrKindDataIntegrity, Message: fmt.Sprintf("failed to read %s: %v", path, err)}
	}
	if frame.Rows() == 0 {
		return nil, &Error{Kind: ErrKindDataIntegrity, Message: fmt.Sprintf("file %s contains no data", path)}
	}
	var missingCols []string
	for _, col := range requiredColumns {
		if !frame.HasColumn(col) {
			missingCols = append(missingCols, col)
		}
	}
	if len(missingCols) > 0 {
		return nil, &Error{
			Kind:    ErrKindDataIntegrity,
			Message: fmt.Sprintf("file %s is missing required columns: %s", path, strings.Join(missingCols, ", ")),
		}
	}
	if dateRange == "" || tf == "" {
		return nil, nil
	}
	return v.verifyDateRange(frame, path, dateRange, tf)
}

func (v *Verifier) verifyDateRange(frame *Frame, path, dateRange, tf string) (*DateRangeInfo, *Error) {
	reqStart, reqEnd, err := timeframe.ParseRange(dateRange)
	if err != nil {
		return nil, &Error{Kind: ErrKindDataIntegrity, Message: err.Error()}
	}
	expected, err := timeframe.ExpectedCandles(reqStart, reqEnd, tf)
	if err != nil {
		return nil, &Error{Kind: ErrKindDataIntegrity, Message: err.Error()}
	}

	dates := append([]time.Time{}, frame.Dates...)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	found := len(dates)

	// 数量不足是硬失败：缺数据直接回测等于在残缺历史上静默跑完
	if found < expected {
		return nil, &Error{
			Kind:    ErrKindDataIntegrity,
			Message: fmt.Sprintf("insufficient candles in %s: expected %d, found %d", path, expected, found),
		}
	}

	gaps, err := timeframe.FindGaps(dates, tf, v.minGapSize)
	if err != nil {
		return nil, &Error{Kind: ErrKindDataIntegrity, Message: err.Error()}
	}
	info := &DateRangeInfo{
		RequestedStart:  reqStart,
		RequestedEnd:    reqEnd,
		ActualStart:     dates[0],
		ActualEnd:       dates[found-1],
		CandlesExpected: expected,
		CandlesFound:    found,
		HasExtraData:    dates[0].Before(reqStart) || dates[found-1].After(reqEnd),
	}
	totalMissing := 0
	for _, g := range gaps {
		info.Gaps = append(info.Gaps, DataGap{Start: g.Start, End: g.End, Missing: g.Missing, Timeframe: tf})
		totalMissing += g.Missing
	}
	info.CoveragePct = float64(expected-totalMissing) / float64(expected) * 100
	return info, nil
}

// matchTimeframe 从文件名里的 "-<tf>-" 片段反推周期。
func matchTimeframe(path string, timeframes []string) string {
	for _, tf := range timeframes {
		if strings.Contains(path, "-"+tf+"-") {
			return tf
		}
	}
	return ""
}

func failure(err *Error) Result {
	return Result{Success: false, ErrorKind: err.Kind, ErrorMessage: err.Message}
}
