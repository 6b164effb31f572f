package backtest

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ftpilot/internal/ftlog"
	"ftpilot/internal/logger"
)

// resultComponent 是引擎里负责落盘的组件名，结果文件名要从它的日志里抠。
// 这是个脆弱契约：消息措辞一变这里就断，所以集中在这一个函数里。
const resultComponent = "freqtrade.misc"

// extractResultName 在日志摘要里找 `dumping json to "<path>"` 消息，
// 取出结果的基名。引擎落盘消息有时带 .meta.json、有时只带 .json，
// 两种后缀都要剥掉，压缩包永远是 <基名>.zip。找不到返回空串。
func extractResultName(summary *ftlog.Summary) string {
	for _, entry := range summary.EntriesByComponent(resultComponent) {
		if !strings.Contains(strings.ToLower(entry.Message), "dumping json to") {
			continue
		}
		parts := strings.Split(entry.Message, `"`)
		if len(parts) < 2 {
			continue
		}
		name := filepath.Base(parts[1])
		name = strings.ReplaceAll(name, ".meta.json", "")
		return strings.TrimSuffix(name, ".json")
	}
	return ""
}

// parseResultBundle 解开 <resultsDir>/<name>.zip 并取出其中唯一的 JSON 载荷。
// 压缩包里出现多个 JSON 时记警告并确定性地取排序后的第一个。
// 临时解包目录无论成败都会清掉。
func parseResultBundle(resultsDir, name string) (json.RawMessage, []string, *StageError) {
	zipPath := filepath.Join(resultsDir, name+".zip")
	if _, err := os.Stat(zipPath); err != nil {
		return nil, nil, &StageError{
			Kind:    KindResultNotLocated,
			Message: fmt.Sprintf("结果压缩包不存在: %s", zipPath),
		}
	}

	tempDir, err := os.MkdirTemp("", "ftpilot-result-")
	if err != nil {
		return nil, nil, &StageError{Kind: KindResultNotLocated, Message: err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Warnf("清理临时目录失败 %s: %v", tempDir, err)
		}
	}()

	if serr := extractZip(zipPath, tempDir); serr != nil {
		return nil, nil, serr
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return nil, nil, &StageError{Kind: KindResultNotLocated, Message: err.Error()}
	}
	var jsonFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			jsonFiles = append(jsonFiles, e.Name())
		}
	}
	if len(jsonFiles) == 0 {
		return nil, nil, &StageError{
			Kind:    KindResultNotLocated,
			Message: fmt.Sprintf("结果压缩包 %s 里没有 JSON 文件", zipPath),
		}
	}
	sort.Strings(jsonFiles)

	var warnings []string
	if len(jsonFiles) > 1 {
		msg := fmt.Sprintf("result bundle contains %d JSON files, using %s", len(jsonFiles), jsonFiles[0])
		logger.Warnf("%s (%s)", msg, zipPath)
		warnings = append(warnings, msg)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, jsonFiles[0]))
	if err != nil {
		return nil, nil, &StageError{Kind: KindResultNotLocated, Message: err.Error()}
	}
	if !json.Valid(data) {
		return nil, nil, &StageError{
			Kind:    KindResultNotLocated,
			Message: fmt.Sprintf("结果文件 %s 不是合法 JSON", jsonFiles[0]),
		}
	}
	return json.RawMessage(data), warnings, nil
}

// extractZip 把压缩包平铺解到 dst（结果包只有平铺的 JSON，无需保留目录层级）。
func extractZip(zipPath, dst string) *StageError {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return &StageError{Kind: KindResultNotLocated, Message: fmt.Sprintf("解压 %s 失败: %v", zipPath, err)}
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractOne(f, dst); err != nil {
			return &StageError{Kind: KindResultNotLocated, Message: fmt.Sprintf("解压 %s 失败: %v", f.Name, err)}
		}
	}
	return nil
}

func extractOne(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(filepath.Join(dst, filepath.Base(f.Name)))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
