package verify

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// readParquet 读取 parquet 格式的数据文件。
// 只解码 date 列，其余列仅取列名做 schema 校验。
func readParquet(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("打开 parquet 文件 %s 失败: %w", path, err)
	}

	frame := &Frame{}
	dateIdx := -1
	for i, field := range pf.Schema().Fields() {
		frame.Columns = append(frame.Columns, field.Name())
		if field.Name() == "date" {
			dateIdx = i
		}
	}
	if dateIdx < 0 {
		return frame, nil
	}

	for _, rg := range pf.RowGroups() {
		chunk := rg.ColumnChunks()[dateIdx]
		pages := chunk.Pages()
		for {
			page, err := pages.ReadPage()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				pages.Close()
				return nil, fmt.Errorf("读取 parquet 页失败: %w", err)
			}
			vals := make([]parquet.Value, page.NumValues())
			n, err := page.Values().ReadValues(vals)
			for _, v := range vals[:n] {
				if v.IsNull() {
					continue
				}
				frame.Dates = append(frame.Dates, normalizeEpoch(v.Int64()))
			}
			if err != nil && !errors.Is(err, io.EOF) {
				pages.Close()
				return nil, fmt.Errorf("解码 parquet date 列失败: %w", err)
			}
		}
		pages.Close()
	}
	return frame, nil
}
