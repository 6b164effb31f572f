package backtest

import (
	"strings"
	"testing"

	"ftpilot/internal/ftlog"
)

func TestExtractResultName(t *testing.T) {
	cases := []struct {
		name    string
		entries []ftlog.Entry
		want    string
	}{
		{
			name: "落盘消息取文件名并去掉 meta 后缀",
			entries: []ftlog.Entry{{
				Name:    "freqtrade.misc",
				Message: `dumping json to "/freqtrade/user_data/backtest_results/j1/backtest_2024.meta.json"`,
			}},
			want: "backtest_2024",
		},
		{
			name: "消息只带 .json 后缀时同样还原基名",
			entries: []ftlog.Entry{{
				Name:    "freqtrade.misc",
				Message: `dumping json to "/freqtrade/user_data/backtest_results/j1/backtest_2024.json"`,
			}},
			want: "backtest_2024",
		},
		{
			name: "非 misc 组件的同款消息忽略",
			entries: []ftlog.Entry{{
				Name:    "freqtrade.optimize",
				Message: `dumping json to "other.json"`,
			}},
			want: "",
		},
		{
			name: "消息措辞不匹配",
			entries: []ftlog.Entry{{
				Name:    "freqtrade.misc",
				Message: "Backtesting finished",
			}},
			want: "",
		},
		{
			name: "路径没带引号时跳过该条",
			entries: []ftlog.Entry{{
				Name:    "freqtrade.misc",
				Message: "dumping json to somewhere",
			}},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &ftlog.Summary{Info: tc.entries, TotalInfo: len(tc.entries)}
			if got := extractResultName(s); got != tc.want {
				t.Fatalf("extractResultName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseResultBundleSingleJSON(t *testing.T) {
	dir := t.TempDir()
	writeResultZip(t, dir, "backtest_r1", map[string]string{
		"backtest_r1.json": `{"strategy":{"Ema":{}}}`,
	})

	payload, warnings, serr := parseResultBundle(dir, "backtest_r1")
	if serr != nil {
		t.Fatalf("parseResultBundle: %v", serr)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if !strings.Contains(string(payload), "Ema") {
		t.Fatalf("payload = %s", payload)
	}
}

func TestParseResultBundleMultipleJSON(t *testing.T) {
	dir := t.TempDir()
	writeResultZip(t, dir, "backtest_r2", map[string]string{
		"b_second.json": `{"which":"second"}`,
		"a_first.json":  `{"which":"first"}`,
		"notes.txt":     "ignore me",
	})

	payload, warnings, serr := parseResultBundle(dir, "backtest_r2")
	if serr != nil {
		t.Fatalf("parseResultBundle: %v", serr)
	}
	// 多个 JSON 时确定性地取排序后的第一个
	if !strings.Contains(string(payload), "first") {
		t.Fatalf("payload = %s", payload)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "a_first.json") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestParseResultBundleMissingZip(t *testing.T) {
	_, _, serr := parseResultBundle(t.TempDir(), "backtest_nope")
	if serr == nil || serr.Kind != KindResultNotLocated {
		t.Fatalf("serr = %v", serr)
	}
}

func TestParseResultBundleNoJSONInside(t *testing.T) {
	dir := t.TempDir()
	writeResultZip(t, dir, "backtest_r3", map[string]string{"readme.txt": "hi"})

	_, _, serr := parseResultBundle(dir, "backtest_r3")
	if serr == nil || serr.Kind != KindResultNotLocated {
		t.Fatalf("serr = %v", serr)
	}
}

func TestParseResultBundleInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeResultZip(t, dir, "backtest_r4", map[string]string{"bad.json": "{not json"})

	_, _, serr := parseResultBundle(dir, "backtest_r4")
	if serr == nil || serr.Kind != KindResultNotLocated {
		t.Fatalf("serr = %v", serr)
	}
}
