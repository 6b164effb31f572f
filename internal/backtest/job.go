package backtest

const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading_data"
	StatusRunning     = "running"
	StatusFinished    = "finished"
	StatusFailed      = "failed"
)

// 供外部轮询的粗粒度进度标记。
const (
	ProgressStarting    = "starting"
	ProgressDownloading = "downloading"
	ProgressRunning     = "running"
)

// 阶段失败类别。校验器自己的类别（DockerExecutionError 等）原样透传。
const (
	KindInvalidInput     = "InvalidInput"
	KindExecution        = "ExecutionError"
	KindResultNotLocated = "ResultNotLocated"
	KindPersistence      = "PersistenceError"
)

// Request 描述一次回测请求。
type Request struct {
	JobID         string   `json:"job_id"`
	StrategyFile  string   `json:"strategy"`   // 策略文件名，如 EmaStrategy.py
	Pairs         []string `json:"pairs"`      // 交易对
	Timeframes    []string `json:"timeframes"` // K 线周期
	DateRange     string   `json:"date_range"` // YYYYMMDD-YYYYMMDD
	CorrelationID string   `json:"correlation_id"`
}

// ResultEnvelope 是任务成功后交回给任务框架的小信封。
type ResultEnvelope struct {
	State      string `json:"state"`
	JobID      string `json:"job_id"`
	StrategyID string `json:"strategy_id"`
}

// StageError 把阶段结果显式建模成带类别标签的失败，
// 状态机按 Kind 转移，而不是按异常类型分派。
type StageError struct {
	Kind    string
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	return e.Kind + ": " + e.Message
}

func (e *StageError) Unwrap() error { return e.Cause }
