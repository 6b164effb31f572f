// Package verify 校验行情数据下载是否完整可用。
package verify

import (
	"fmt"
	"strings"
)

// dataExts 各数据格式对应的文件后缀。
var dataExts = map[string]string{
	"feather": "feather",
	"parquet": "parquet",
	"json":    "json",
}

// ExpectedFiles 根据 交易对 × 周期 × 交易模式 推导应存在的数据文件清单
// （相对数据根目录）。futures 模式额外需要 8h 的标记价与资金费率文件。
// 清单是纯推导结果，不落盘。
func ExpectedFiles(pairs, timeframes []string, tradingMode, dataFormat string) ([]string, error) {
	ext, ok := dataExts[dataFormat]
	if !ok {
		return nil, fmt.Errorf("不支持的数据格式: %q", dataFormat)
	}
	var files []string
	for _, pair := range pairs {
		// BTC/USDT:USDT -> BTC_USDT_USDT
		formatted := strings.NewReplacer("/", "_", ":", "_").Replace(pair)
		for _, tf := range timeframes {
			files = append(files, fmt.Sprintf("%s/%s-%s-%s.%s", tradingMode, formatted, tf, tradingMode, ext))
		}
		if tradingMode == "futures" {
			// 资金费率按 8h 结算，标记价随之也是 8h
			files = append(files,
				fmt.Sprintf("%s/%s-8h-mark.%s", tradingMode, formatted, ext),
				fmt.Sprintf("%s/%s-8h-funding_rate.%s", tradingMode, formatted, ext),
			)
		}
	}
	return files, nil
}
