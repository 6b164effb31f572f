package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Frame 是数据文件的最小视图：列名与 date 列的时间序列。
// 校验只需要这两样，OHLCV 数值本身不读。
type Frame struct {
	Columns []string
	Dates   []time.Time
}

func (f *Frame) Rows() int { return len(f.Dates) }

// HasColumn 判断列是否存在。
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// LoadFrame 按文件后缀分发到对应格式的读取器。
func LoadFrame(path string) (*Frame, error) {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "feather":
		return readFeather(path)
	case "parquet":
		return readParquet(path)
	case "json":
		return readJSON(path)
	}
	return nil, fmt.Errorf("无法识别的数据文件格式: %s", path)
}

// readJSON 读取 freqtrade 的 json 格式：[[ts, open, high, low, close, volume], ...]。
func readJSON(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows [][]json.Number
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}

	// json 格式没有显式表头，列按位置对应；短行意味着缺列。
	width := 0
	frame := &Frame{}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if width == 0 || len(row) < width {
			width = len(row)
		}
		ts, err := row[0].Int64()
		if err != nil {
			f, ferr := row[0].Float64()
			if ferr != nil {
				continue
			}
			ts = int64(f)
		}
		frame.Dates = append(frame.Dates, normalizeEpoch(ts))
	}
	all := []string{"date", "open", "high", "low", "close", "volume"}
	if width > len(all) {
		width = len(all)
	}
	frame.Columns = all[:width]
	return frame, nil
}

// normalizeEpoch 按数量级判断 int64 时间戳的单位（s/ms/us/ns）。
// freqtrade 自身导出 ms，但 json/parquet 的外部来源单位并不统一。
func normalizeEpoch(v int64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, v).UTC()
	case v > 1e14:
		return time.UnixMicro(v).UTC()
	case v > 1e11:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}
