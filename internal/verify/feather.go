package verify

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// readFeather 读取 feather（Arrow IPC file）格式，freqtrade 的默认落盘格式。
func readFeather(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("打开 feather 文件 %s 失败: %w", path, err)
	}
	defer r.Close()

	frame := &Frame{}
	dateIdx := -1
	for i, field := range r.Schema().Fields() {
		frame.Columns = append(frame.Columns, field.Name)
		if field.Name == "date" {
			dateIdx = i
		}
	}
	if dateIdx < 0 {
		return frame, nil
	}

	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("读取 feather 记录批 %d 失败: %w", i, err)
		}
		switch col := rec.Column(dateIdx).(type) {
		case *array.Timestamp:
			unit := rec.Schema().Field(dateIdx).Type.(*arrow.TimestampType).Unit
			for k := 0; k < col.Len(); k++ {
				if col.IsNull(k) {
					continue
				}
				frame.Dates = append(frame.Dates, col.Value(k).ToTime(unit).UTC())
			}
		case *array.Int64:
			for k := 0; k < col.Len(); k++ {
				if col.IsNull(k) {
					continue
				}
				frame.Dates = append(frame.Dates, normalizeEpoch(col.Value(k)))
			}
		default:
			return nil, fmt.Errorf("feather 文件 %s 的 date 列类型不受支持: %s", path, col.DataType())
		}
	}
	return frame, nil
}
