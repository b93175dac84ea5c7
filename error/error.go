package error

import "errors"

var (
	// ErrNotConnected 未连接adapter或者调试已经结束
	ErrNotConnected = errors.New("debugger is not connected")
	// ErrInvalidState 当前状态下不允许执行该命令
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrNoCurrentThread 没有记录当前线程，无法执行step/continue
	ErrNoCurrentThread = errors.New("no current thread")
	// ErrAdapterRefused adapter返回了success=false的响应
	ErrAdapterRefused = errors.New("request refused by adapter")
	// ErrTimeout 等待响应超时
	ErrTimeout = errors.New("request timed out")
	// ErrTransport 底层连接读写失败
	ErrTransport = errors.New("transport failure")
	// ErrDecode adapter发来的消息无法解析
	ErrDecode = errors.New("malformed message")
	// ErrCapability adapter不支持该操作
	ErrCapability = errors.New("capability not supported by adapter")
	// ErrCancelled 操作由于shutdown被取消
	ErrCancelled = errors.New("operation cancelled")
	// ErrDuplicateBreakpoint 相同位置的断点已经存在
	ErrDuplicateBreakpoint = errors.New("breakpoint already exists")
	// ErrBreakpointNotFound 断点不存在
	ErrBreakpointNotFound = errors.New("breakpoint not found")
)
