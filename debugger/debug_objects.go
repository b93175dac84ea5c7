package debugger

import (
	"encoding/json"
	"time"

	"github.com/fansqz/go-dap-client/constants"
	"github.com/google/go-dap"
)

// OutputCallback 用户程序输出的回调
type OutputCallback func(category string, output string)

// StartOption 启动调试的参数
type StartOption struct {
	// Language 调试语言，用于选择adapterID等默认值
	Language constants.LanguageType
	// LaunchArguments launch请求的参数，不做解析，原样转发给adapter
	LaunchArguments json.RawMessage
	// AttachArguments attach请求的参数，非空时以attach方式启动
	AttachArguments json.RawMessage
	// StopOnEntry 是否在入口处暂停
	// 引擎不读取该字段，是否暂停由LaunchArguments/AttachArguments中的参数决定
	StopOnEntry bool
	// Breakpoints 初始断点，在配置阶段统一下发
	Breakpoints []*Breakpoint
	// FunctionBreakpoints 函数断点，需要adapter支持
	FunctionBreakpoints []string
	// ExceptionFilters 异常断点过滤器，需要adapter支持
	ExceptionFilters []string
	// RequestTimeout 每个请求的默认超时时间，调用方的ctx没带deadline时使用
	RequestTimeout time.Duration
	// TerminateDebuggee shutdown时是否同时结束被调试进程
	TerminateDebuggee bool
	// OnOutput 用户程序输出的回调，可以为空
	OnOutput OutputCallback
}

// Breakpoint 表示断点
// ID是内部分配的标识，整个会话内稳定
// AdapterID是adapter分配的标识，每次setBreakpoints响应后重新确认，
// 两者不能混用：adapter不保证同一文件多次setBreakpoints之间id不变
type Breakpoint struct {
	ID        int    `json:"id"`
	Name      string `json:"name,omitempty"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
	AdapterID int    `json:"adapterId,omitempty"`
	Verified  bool   `json:"verified"`
}

func NewBreakpoint(path string, line int) *Breakpoint {
	return &Breakpoint{Path: path, Line: line, Enabled: true}
}

// ScopeVariables 一个作用域和该作用域下的变量列表
type ScopeVariables struct {
	Scope     dap.Scope      `json:"scope"`
	Variables []dap.Variable `json:"variables"`
}

// PausedFrame 暂停时选中的栈帧，包含该栈帧的作用域和变量
type PausedFrame struct {
	Frame  dap.StackFrame    `json:"frame"`
	Scopes []*ScopeVariables `json:"scopes"`
}

// ProgramState 对外发布的调试状态快照
// Stack、PausedFrame只在Paused和ScopeChange状态下有值，
// 其中的frameId、variablesReference在下一次resume后全部失效
type ProgramState struct {
	State constants.DebugState `json:"state"`
	// Reason 暂停原因，对应stopped事件的reason
	Reason string `json:"reason,omitempty"`
	// ThreadID 暂停时记录的线程
	ThreadID int `json:"threadId,omitempty"`
	// Stack 完整的调用栈，栈顶在前
	Stack []dap.StackFrame `json:"stack,omitempty"`
	// PausedFrame 当前选中的栈帧及其变量
	PausedFrame *PausedFrame `json:"pausedFrame,omitempty"`
	// Breakpoints 当前的断点快照，方便UI对照
	Breakpoints []*Breakpoint `json:"breakpoints,omitempty"`
	// Err 终止时附带的诊断信息
	Err error `json:"-"`
}
