// Package ftlog 解析 freqtrade --logfile 输出的 JSONL 结构化日志。
package ftlog

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"ftpilot/internal/logger"
)

// 日志行里 timestamp 字段的格式。
const timestampLayout = "2006-01-02 15:04:05"

// Entry 是解析后的单条日志，解析完成后不再修改。
type Entry struct {
	Timestamp time.Time
	Level     string
	Name      string // 产生日志的组件（logger name）
	Message   string
	Module    string
	LineNo    int
	Details   map[string]any
}

// Summary 按级别归档一次容器调用产生的全部日志。
type Summary struct {
	Info     []Entry
	Warnings []Entry
	Errors   []Entry

	TotalInfo     int
	TotalWarnings int
	TotalErrors   int

	// 所有成功解析条目的最早/最晚时间；无条目时为零值。
	StartTime time.Time
	EndTime   time.Time
}

// HasCriticalErrors 只要存在 ERROR 级别条目即为真。
func (s *Summary) HasCriticalErrors() bool {
	return s != nil && s.TotalErrors > 0
}

// EntriesByComponent 返回指定组件的全部条目（跨级别，按时间升序）。
func (s *Summary) EntriesByComponent(name string) []Entry {
	if s == nil {
		return nil
	}
	var out []Entry
	for _, bucket := range [][]Entry{s.Info, s.Warnings, s.Errors} {
		for _, e := range bucket {
			if e.Name == name {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// EntriesByLevel 返回指定级别（INFO/WARNING/ERROR）的条目。
func (s *Summary) EntriesByLevel(level string) []Entry {
	if s == nil {
		return nil
	}
	switch strings.ToUpper(level) {
	case "INFO":
		return s.Info
	case "WARNING":
		return s.Warnings
	case "ERROR":
		return s.Errors
	}
	return nil
}

// rawEntry 对应 JSONL 的原始字段。
type rawEntry struct {
	Timestamp string         `json:"timestamp"`
	LevelName string         `json:"levelname"`
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Module    string         `json:"module"`
	LineNo    int            `json:"lineno"`
	Details   map[string]any `json:"details"`
}

// ParseLine 解析单行；空行返回 nil, false，坏行同样跳过并记一条解析警告。
// 单行解析失败绝不会中断整个文件的处理。
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}
	var raw rawEntry
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		logger.Warnf("跳过无法解析的日志行: %v", err)
		return Entry{}, false
	}
	ts, err := time.Parse(timestampLayout, raw.Timestamp)
	if err != nil {
		logger.Warnf("跳过时间戳非法的日志行: %v", err)
		return Entry{}, false
	}
	return Entry{
		Timestamp: ts,
		Level:     raw.LevelName,
		Name:      raw.Name,
		Message:   raw.Message,
		Module:    raw.Module,
		LineNo:    raw.LineNo,
		Details:   raw.Details,
	}, true
}

// Parse 读取 JSONL 流并生成 Summary。
// 容器运行时可能交错输出，各级别列表在读完后统一按时间排序。
func Parse(r io.Reader) *Summary {
	s := &Summary{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		switch entry.Level {
		case "INFO":
			s.Info = append(s.Info, entry)
			s.TotalInfo++
		case "WARNING":
			s.Warnings = append(s.Warnings, entry)
			s.TotalWarnings++
		case "ERROR":
			s.Errors = append(s.Errors, entry)
			s.TotalErrors++
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warnf("读取日志流中断: %v", err)
	}

	byTime := func(bucket []Entry) {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Timestamp.Before(bucket[j].Timestamp) })
	}
	byTime(s.Info)
	byTime(s.Warnings)
	byTime(s.Errors)

	for _, bucket := range [][]Entry{s.Info, s.Warnings, s.Errors} {
		for _, e := range bucket {
			if s.StartTime.IsZero() || e.Timestamp.Before(s.StartTime) {
				s.StartTime = e.Timestamp
			}
			if e.Timestamp.After(s.EndTime) {
				s.EndTime = e.Timestamp
			}
		}
	}
	return s
}

// ParseFile 打开并解析一个 JSONL 日志文件。
func ParseFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f), nil
}
