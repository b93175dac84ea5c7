package constants

// DebugState 调试会话的状态
// 状态机：Uninitialised -> Initialising -> Configuring -> Running <-> Paused -> Terminated
// Paused期间切换栈帧会短暂进入ScopeChange，完成后回到Paused
type DebugState string

const (
	// Uninitialised 尚未连接adapter
	Uninitialised DebugState = "uninitialised"
	// Initialising 已发送initialize请求，等待adapter的initialized事件
	Initialising DebugState = "initialising"
	// Configuring 配置阶段，下发断点，结束后发送configurationDone
	Configuring DebugState = "configuring"
	// Running 用户程序运行中
	Running DebugState = "running"
	// Paused 用户程序暂停，栈帧、变量可读
	Paused DebugState = "paused"
	// ScopeChange 切换栈帧中，拉取新栈帧的作用域和变量
	ScopeChange DebugState = "scopeChange"
	// Terminated 调试结束状态，实例不可再使用
	Terminated DebugState = "terminated"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	EntryStopped      StoppedReasonType = "entry"
	PauseStopped      StoppedReasonType = "pause"
	ExceptionStopped  StoppedReasonType = "exception"
)

// EvaluateContext evaluate请求的上下文，adapter根据它调整求值行为
const (
	EvaluateWatch = "watch"
	EvaluateRepl  = "repl"
	EvaluateHover = "hover"
)

// OutputCategory adapter输出事件的类别
const (
	OutputConsole = "console"
	OutputStdout  = "stdout"
	OutputStderr  = "stderr"
)
