package debugger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/go-dap-client/constants"
	e "github.com/fansqz/go-dap-client/error"
	"github.com/fansqz/go-dap-client/transport"
	"github.com/fansqz/go-dap-client/utils"
	"github.com/fansqz/go-dap-client/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	// ClientID initialize请求中上报的客户端标识
	ClientID = "go-dap-client"

	// DefaultRequestTimeout 调用方没有设置deadline时每个请求的默认超时
	DefaultRequestTimeout = time.Second * 10

	// shutdownGrace shutdown时等待disconnect响应的时间
	shutdownGrace = time.Second * 5
)

// Debugger 用户的一次调试过程处理
// 持有到adapter的连接，驱动DAP握手和状态机，对外提供命令接口和状态订阅
// 所有方法都是并发安全的
type Debugger struct {
	option *StartOption

	conn   *transport.Conn
	reader *transport.MessageReader
	writer *transport.MessageWriter

	// statusManager 调试的状态管理
	statusManager *utils.StatusManager
	pending       *pendingRequests
	publisher     *statePublisher
	registry      *breakpointRegistry

	sessionID string

	// seq 请求序列号，连接内严格递增
	seq int64

	// mutex 保护下面的引擎内部状态
	mutex           sync.Mutex
	capabilities    dap.Capabilities
	currentThreadID int
	// resumeEpoch 每次程序恢复运行时递增
	// 停止事件的后续请求带着发起时的epoch，epoch过期的结果直接丢弃，
	// 保证上一次暂停拿到的frame/variable引用不会跨越resume被复用
	resumeEpoch int64
	stack       []dap.StackFrame
	pausedFrame *PausedFrame

	started bool

	runCtx    context.Context
	runCancel context.CancelFunc

	terminateOnce sync.Once
	done          chan struct{}
}

// NewDebugger 基于一条已建立的字节流创建调试器
// option中的初始断点会先进入注册表，配置阶段统一下发
func NewDebugger(rwc io.ReadWriteCloser, option *StartOption, opts ...transport.Option) *Debugger {
	if option == nil {
		option = &StartOption{}
	}
	conn := transport.NewConn(rwc, opts...)
	reader, writer := conn.Split()
	runCtx, runCancel := context.WithCancel(context.Background())
	d := &Debugger{
		option:        option,
		conn:          conn,
		reader:        reader,
		writer:        writer,
		statusManager: utils.NewStatusManager(),
		pending:       newPendingRequests(),
		publisher:     newStatePublisher(&ProgramState{State: constants.Uninitialised}),
		registry:      newBreakpointRegistry(),
		sessionID:     utils.GetUUID(),
		runCtx:        runCtx,
		runCancel:     runCancel,
		done:          make(chan struct{}),
	}
	for _, breakpoint := range option.Breakpoints {
		if _, err := d.registry.Add(breakpoint); err != nil {
			logrus.Warnf("[Debugger] ignoring initial breakpoint %s:%d, err = %v", breakpoint.Path, breakpoint.Line, err)
		}
	}
	return d
}

// Start 开始调试
// 同步完成initialize握手并发出launch/attach，之后的配置阶段由
// adapter的initialized事件驱动，不在这里等待
func (d *Debugger) Start(ctx context.Context) error {
	logrus.Infof("[Debugger] Start, session = %s", d.sessionID)
	d.mutex.Lock()
	if d.started {
		d.mutex.Unlock()
		return fmt.Errorf("%w: already started", e.ErrInvalidState)
	}
	d.started = true
	d.mutex.Unlock()

	d.setState(constants.Initialising, &ProgramState{State: constants.Initialising, Breakpoints: d.registry.List()})
	gosync.Go(d.runCtx, d.dispatch)

	if err := d.initialize(ctx); err != nil {
		d.terminate(err)
		return err
	}
	if err := d.launchOrAttach(ctx); err != nil {
		d.terminate(err)
		return err
	}
	return nil
}

// initialize 发送initialize请求并记录adapter的能力集
// 后续所有可选请求都以能力集为准
func (d *Debugger) initialize(ctx context.Context) error {
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.InitializeRequest{
			Request: newRequest(seq, "initialize"),
			Arguments: dap.InitializeRequestArguments{
				ClientID:             ClientID,
				ClientName:           ClientID,
				AdapterID:            string(d.option.Language),
				Locale:               "en-US",
				LinesStartAt1:        true,
				ColumnsStartAt1:      true,
				PathFormat:           "path",
				SupportsVariableType: true,
			},
		}
	})
	if err != nil {
		return fmt.Errorf("initialize fail: %w", err)
	}
	if initializeResponse, ok := response.(*dap.InitializeResponse); ok {
		d.mutex.Lock()
		d.capabilities = initializeResponse.Body
		d.mutex.Unlock()
	} else {
		logrus.Warnf("[Debugger] unexpected initialize response type %T", response)
	}
	return nil
}

// launchOrAttach 发出launch或attach请求
// 响应不在这里等待：按协议initialized事件可能早于该响应到达，
// 响应结果由单独的协程记录
func (d *Debugger) launchOrAttach(ctx context.Context) error {
	command := "launch"
	arguments := d.option.LaunchArguments
	if len(d.option.AttachArguments) > 0 {
		command = "attach"
		arguments = d.option.AttachArguments
	}
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}

	seq := int(atomic.AddInt64(&d.seq, 1))
	waiter := d.pending.register(seq)
	var message dap.Message
	if command == "attach" {
		message = &dap.AttachRequest{Request: newRequest(seq, "attach"), Arguments: arguments}
	} else {
		message = &dap.LaunchRequest{Request: newRequest(seq, "launch"), Arguments: arguments}
	}
	if err := d.writer.WriteMessage(message); err != nil {
		d.pending.remove(seq)
		d.terminate(err)
		return err
	}
	gosync.Go(d.runCtx, func(ctx context.Context) {
		select {
		case result := <-waiter:
			if result.err != nil {
				logrus.Errorf("[Debugger] %s fail, err = %v", command, result.err)
				return
			}
			if response := result.response.GetResponse(); !response.Success {
				logrus.Errorf("[Debugger] %s refused, err = %v", command, adapterError(result.response))
			}
		case <-d.done:
		}
	})
	return nil
}

// applyConfiguration 配置阶段：下发全部断点，然后发送configurationDone
// 在initialized事件到达后由单独的协程执行
func (d *Debugger) applyConfiguration(ctx context.Context) {
	for _, source := range d.registry.Sources() {
		if err := d.syncSourceBreakpoints(ctx, source); err != nil {
			logrus.Errorf("[Debugger] set breakpoints fail, source = %s, err = %v", source, err)
			d.registry.MarkUnverified(source)
		}
	}
	d.applyFunctionBreakpoints(ctx)
	d.applyExceptionFilters(ctx)

	if d.getCapabilities().SupportsConfigurationDoneRequest {
		if _, err := d.sendAndWait(ctx, func(seq int) dap.Message {
			return &dap.ConfigurationDoneRequest{Request: newRequest(seq, "configurationDone")}
		}); err != nil {
			logrus.Errorf("[Debugger] configurationDone fail, err = %v", err)
			return
		}
	}
	if d.statusManager.Is(constants.Terminated) {
		return
	}
	d.setState(constants.Running, &ProgramState{State: constants.Running, Breakpoints: d.registry.List()})
}

// syncSourceBreakpoints 把某个源文件当前的断点列表整体下发给adapter
// 响应中的断点描述按位置对应请求中的条目，回写adapter分配的id
func (d *Debugger) syncSourceBreakpoints(ctx context.Context, path string) error {
	breakpoints := d.registry.ListBySource(path)
	supportsCondition := d.getCapabilities().SupportsConditionalBreakpoints

	var sent []*Breakpoint
	var sourceBreakpoints []dap.SourceBreakpoint
	var lines []int
	for _, breakpoint := range breakpoints {
		if !breakpoint.Enabled {
			continue
		}
		sourceBreakpoint := dap.SourceBreakpoint{Line: breakpoint.Line}
		if breakpoint.Condition != "" {
			if supportsCondition {
				sourceBreakpoint.Condition = breakpoint.Condition
			} else {
				logrus.Warnf("[Debugger] adapter does not support conditions, sending %s:%d unconditionally",
					breakpoint.Path, breakpoint.Line)
			}
		}
		sent = append(sent, breakpoint)
		sourceBreakpoints = append(sourceBreakpoints, sourceBreakpoint)
		lines = append(lines, breakpoint.Line)
	}

	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.SetBreakpointsRequest{
			Request: newRequest(seq, "setBreakpoints"),
			Arguments: dap.SetBreakpointsArguments{
				Source:      dap.Source{Name: filepath.Base(path), Path: path},
				Breakpoints: sourceBreakpoints,
				Lines:       lines,
			},
		}
	})
	if err != nil {
		return err
	}
	setBreakpointsResponse, ok := response.(*dap.SetBreakpointsResponse)
	if !ok {
		return fmt.Errorf("%w: unexpected setBreakpoints response %T", e.ErrDecode, response)
	}
	d.registry.Resync(sent, setBreakpointsResponse.Body.Breakpoints)
	return nil
}

func (d *Debugger) applyFunctionBreakpoints(ctx context.Context) {
	if len(d.option.FunctionBreakpoints) == 0 {
		return
	}
	if !d.getCapabilities().SupportsFunctionBreakpoints {
		logrus.Warnf("[Debugger] adapter does not support function breakpoints, skipping %d entries",
			len(d.option.FunctionBreakpoints))
		return
	}
	functionBreakpoints := make([]dap.FunctionBreakpoint, 0, len(d.option.FunctionBreakpoints))
	for _, name := range d.option.FunctionBreakpoints {
		functionBreakpoints = append(functionBreakpoints, dap.FunctionBreakpoint{Name: name})
	}
	if _, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.SetFunctionBreakpointsRequest{
			Request:   newRequest(seq, "setFunctionBreakpoints"),
			Arguments: dap.SetFunctionBreakpointsArguments{Breakpoints: functionBreakpoints},
		}
	}); err != nil {
		logrus.Errorf("[Debugger] setFunctionBreakpoints fail, err = %v", err)
	}
}

func (d *Debugger) applyExceptionFilters(ctx context.Context) {
	if len(d.option.ExceptionFilters) == 0 {
		return
	}
	if len(d.getCapabilities().ExceptionBreakpointFilters) == 0 {
		logrus.Warnf("[Debugger] adapter does not support exception breakpoints, skipping %d filters",
			len(d.option.ExceptionFilters))
		return
	}
	if _, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.SetExceptionBreakpointsRequest{
			Request:   newRequest(seq, "setExceptionBreakpoints"),
			Arguments: dap.SetExceptionBreakpointsArguments{Filters: d.option.ExceptionFilters},
		}
	}); err != nil {
		logrus.Errorf("[Debugger] setExceptionBreakpoints fail, err = %v", err)
	}
}

// fetchStoppedState stopped事件的后续请求
// 一次完整的stackTrace，然后拉取栈顶帧的作用域和变量，全部就绪后发布Paused
// epoch过期说明程序在途中恢复了运行，结果直接丢弃
func (d *Debugger) fetchStoppedState(ctx context.Context, epoch int64, threadID int, reason string) {
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.StackTraceRequest{
			Request:   newRequest(seq, "stackTrace"),
			Arguments: dap.StackTraceArguments{ThreadId: threadID},
		}
	})
	if err != nil {
		logrus.Errorf("[Debugger] stackTrace fail, err = %v", err)
		return
	}
	stackTraceResponse, ok := response.(*dap.StackTraceResponse)
	if !ok {
		logrus.Errorf("[Debugger] unexpected stackTrace response %T", response)
		return
	}
	frames := stackTraceResponse.Body.StackFrames
	if d.staleEpoch(epoch) {
		return
	}

	var pausedFrame *PausedFrame
	if len(frames) > 0 {
		if pausedFrame, err = d.fetchFrame(ctx, frames[0]); err != nil {
			logrus.Errorf("[Debugger] fetch paused frame fail, err = %v", err)
			return
		}
	} else {
		logrus.Warnf("[Debugger] stopped with empty stack, thread = %d", threadID)
	}

	d.mutex.Lock()
	if epoch != d.resumeEpoch {
		d.mutex.Unlock()
		return
	}
	d.stack = frames
	d.pausedFrame = pausedFrame
	d.mutex.Unlock()

	d.setState(constants.Paused, &ProgramState{
		State:       constants.Paused,
		Reason:      reason,
		ThreadID:    threadID,
		Stack:       frames,
		PausedFrame: pausedFrame,
		Breakpoints: d.registry.List(),
	})
}

// fetchFrame 拉取一个栈帧的作用域和每个作用域下的变量
func (d *Debugger) fetchFrame(ctx context.Context, frame dap.StackFrame) (*PausedFrame, error) {
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.ScopesRequest{
			Request:   newRequest(seq, "scopes"),
			Arguments: dap.ScopesArguments{FrameId: frame.Id},
		}
	})
	if err != nil {
		return nil, err
	}
	scopesResponse, ok := response.(*dap.ScopesResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected scopes response %T", e.ErrDecode, response)
	}
	pausedFrame := &PausedFrame{Frame: frame}
	for _, scope := range scopesResponse.Body.Scopes {
		variables, err := d.fetchVariables(ctx, scope.VariablesReference)
		if err != nil {
			return nil, err
		}
		pausedFrame.Scopes = append(pausedFrame.Scopes, &ScopeVariables{Scope: scope, Variables: variables})
	}
	return pausedFrame, nil
}

func (d *Debugger) fetchVariables(ctx context.Context, reference int) ([]dap.Variable, error) {
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.VariablesRequest{
			Request:   newRequest(seq, "variables"),
			Arguments: dap.VariablesArguments{VariablesReference: reference},
		}
	})
	if err != nil {
		return nil, err
	}
	variablesResponse, ok := response.(*dap.VariablesResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected variables response %T", e.ErrDecode, response)
	}
	return variablesResponse.Body.Variables, nil
}

// resume 程序恢复运行
// 之前拿到的frame/variable引用全部作废，缓存清空
func (d *Debugger) resume() {
	d.mutex.Lock()
	d.resumeEpoch++
	d.stack = nil
	d.pausedFrame = nil
	d.mutex.Unlock()
	if d.statusManager.Is(constants.Running, constants.Terminated) {
		// 状态未变化或者已经结束，不重复发布
		return
	}
	d.setState(constants.Running, &ProgramState{State: constants.Running, Breakpoints: d.registry.List()})
}

// Continue 继续执行，直到adapter下一次报告停止（例如命中断点）
func (d *Debugger) Continue(ctx context.Context) error {
	logrus.Infof("[Debugger] Continue")
	if err := d.requirePaused(); err != nil {
		return err
	}
	threadID, err := d.requireThread()
	if err != nil {
		return err
	}
	if _, err = d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.ContinueRequest{
			Request:   newRequest(seq, "continue"),
			Arguments: dap.ContinueArguments{ThreadId: threadID},
		}
	}); err != nil {
		return err
	}
	d.resume()
	return nil
}

// StepOver 下一步，不会进入函数内部
func (d *Debugger) StepOver(ctx context.Context) error {
	logrus.Infof("[Debugger] StepOver")
	return d.step(ctx, "next")
}

// StepIn 下一步，会进入函数内部
func (d *Debugger) StepIn(ctx context.Context) error {
	logrus.Infof("[Debugger] StepIn")
	return d.step(ctx, "stepIn")
}

// StepOut 单步退出
func (d *Debugger) StepOut(ctx context.Context) error {
	logrus.Infof("[Debugger] StepOut")
	return d.step(ctx, "stepOut")
}

func (d *Debugger) step(ctx context.Context, command string) error {
	if err := d.requirePaused(); err != nil {
		return err
	}
	threadID, err := d.requireThread()
	if err != nil {
		return err
	}
	if _, err = d.sendAndWait(ctx, func(seq int) dap.Message {
		switch command {
		case "stepIn":
			return &dap.StepInRequest{
				Request:   newRequest(seq, command),
				Arguments: dap.StepInArguments{ThreadId: threadID},
			}
		case "stepOut":
			return &dap.StepOutRequest{
				Request:   newRequest(seq, command),
				Arguments: dap.StepOutArguments{ThreadId: threadID},
			}
		default:
			return &dap.NextRequest{
				Request:   newRequest(seq, command),
				Arguments: dap.NextArguments{ThreadId: threadID},
			}
		}
	}); err != nil {
		return err
	}
	// 程序保持Running直到下一个stopped事件
	d.resume()
	return nil
}

// Pause 请求暂停
// 响应成功只代表请求被接受，真正的暂停由后续的stopped事件驱动
func (d *Debugger) Pause(ctx context.Context) error {
	logrus.Infof("[Debugger] Pause")
	if d.statusManager.Is(constants.Uninitialised, constants.Terminated) {
		return e.ErrNotConnected
	}
	if !d.statusManager.Is(constants.Running) {
		return fmt.Errorf("%w: %s", e.ErrInvalidState, d.statusManager.Get())
	}
	d.mutex.Lock()
	threadID := d.currentThreadID
	d.mutex.Unlock()
	if threadID == 0 {
		// 还没有记录过线程，先问一次adapter
		threads, err := d.GetThreads(ctx)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			return e.ErrNoCurrentThread
		}
		threadID = threads[0].Id
	}
	_, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.PauseRequest{
			Request:   newRequest(seq, "pause"),
			Arguments: dap.PauseArguments{ThreadId: threadID},
		}
	})
	return err
}

// GetThreads 获取线程列表
func (d *Debugger) GetThreads(ctx context.Context) ([]dap.Thread, error) {
	if d.statusManager.Is(constants.Uninitialised, constants.Terminated) {
		return nil, e.ErrNotConnected
	}
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.ThreadsRequest{Request: newRequest(seq, "threads")}
	})
	if err != nil {
		return nil, err
	}
	threadsResponse, ok := response.(*dap.ThreadsResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected threads response %T", e.ErrDecode, response)
	}
	return threadsResponse.Body.Threads, nil
}

// GetVariables 查看引用的值
// 引用过期由adapter判定，这里不做本地校验
func (d *Debugger) GetVariables(ctx context.Context, reference int) ([]dap.Variable, error) {
	logrus.Infof("[Debugger] GetVariables, reference = %d", reference)
	if err := d.requirePaused(); err != nil {
		return nil, err
	}
	return d.fetchVariables(ctx, reference)
}

// Evaluate 在某个栈帧下求值
// 只在Paused和ScopeChange状态下可用，失败不会改变调试状态
func (d *Debugger) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	logrus.Infof("[Debugger] Evaluate")
	if err := d.requirePaused(); err != nil {
		return nil, err
	}
	if evalContext == "" {
		evalContext = constants.EvaluateRepl
	}
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.EvaluateRequest{
			Request: newRequest(seq, "evaluate"),
			Arguments: dap.EvaluateArguments{
				Expression: expression,
				FrameId:    frameID,
				Context:    evalContext,
			},
		}
	})
	if err != nil {
		return nil, err
	}
	evaluateResponse, ok := response.(*dap.EvaluateResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected evaluate response %T", e.ErrDecode, response)
	}
	body := evaluateResponse.Body
	return &body, nil
}

// SetVariable 修改变量的值，需要adapter支持
func (d *Debugger) SetVariable(ctx context.Context, reference int, name string, value string) (string, error) {
	logrus.Infof("[Debugger] SetVariable, name = %s", name)
	if err := d.requirePaused(); err != nil {
		return "", err
	}
	if !d.getCapabilities().SupportsSetVariable {
		return "", fmt.Errorf("%w: setVariable", e.ErrCapability)
	}
	response, err := d.sendAndWait(ctx, func(seq int) dap.Message {
		return &dap.SetVariableRequest{
			Request: newRequest(seq, "setVariable"),
			Arguments: dap.SetVariableArguments{
				VariablesReference: reference,
				Name:               name,
				Value:              value,
			},
		}
	})
	if err != nil {
		return "", err
	}
	setVariableResponse, ok := response.(*dap.SetVariableResponse)
	if !ok {
		return "", fmt.Errorf("%w: unexpected setVariable response %T", e.ErrDecode, response)
	}
	return setVariableResponse.Body.Value, nil
}

// ChangeScope 切换选中的栈帧，拉取该栈帧的作用域和变量
// 期间状态短暂进入ScopeChange，完成后回到Paused
func (d *Debugger) ChangeScope(ctx context.Context, frameID int) error {
	logrus.Infof("[Debugger] ChangeScope, frame = %d", frameID)
	if err := d.requirePaused(); err != nil {
		return err
	}
	d.mutex.Lock()
	epoch := d.resumeEpoch
	stack := d.stack
	threadID := d.currentThreadID
	d.mutex.Unlock()

	var frame *dap.StackFrame
	for i := range stack {
		if stack[i].Id == frameID {
			frame = &stack[i]
			break
		}
	}
	if frame == nil {
		return fmt.Errorf("%w: unknown frame %d", e.ErrInvalidState, frameID)
	}

	previous := d.publisher.Current()
	d.setState(constants.ScopeChange, &ProgramState{
		State:       constants.ScopeChange,
		Reason:      previous.Reason,
		ThreadID:    threadID,
		Stack:       stack,
		PausedFrame: previous.PausedFrame,
		Breakpoints: d.registry.List(),
	})

	pausedFrame, err := d.fetchFrame(ctx, *frame)
	if err != nil || d.staleEpoch(epoch) {
		if d.statusManager.Is(constants.ScopeChange) {
			// 失败时回到之前的暂停状态
			d.setState(constants.Paused, previous)
		}
		if err == nil {
			err = fmt.Errorf("%w: program resumed during scope change", e.ErrInvalidState)
		}
		return err
	}

	d.mutex.Lock()
	if epoch == d.resumeEpoch {
		d.pausedFrame = pausedFrame
	}
	d.mutex.Unlock()
	d.setState(constants.Paused, &ProgramState{
		State:       constants.Paused,
		Reason:      previous.Reason,
		ThreadID:    threadID,
		Stack:       stack,
		PausedFrame: pausedFrame,
		Breakpoints: d.registry.List(),
	})
	return nil
}

// AddBreakpoint 添加断点
// 分配内部id后把该源文件的断点列表整体重新下发
func (d *Debugger) AddBreakpoint(ctx context.Context, breakpoint *Breakpoint) (int, error) {
	logrus.Infof("[Debugger] AddBreakpoint, %s:%d", breakpoint.Path, breakpoint.Line)
	if d.statusManager.Is(constants.Uninitialised, constants.Terminated) {
		return 0, e.ErrNotConnected
	}
	if breakpoint.Condition != "" && d.statusManager.Is(constants.Configuring, constants.Running, constants.Paused, constants.ScopeChange) {
		if !d.getCapabilities().SupportsConditionalBreakpoints {
			return 0, fmt.Errorf("%w: conditional breakpoints", e.ErrCapability)
		}
	}
	id, err := d.registry.Add(breakpoint)
	if err != nil {
		return 0, err
	}
	if d.statusManager.Is(constants.Configuring, constants.Running, constants.Paused, constants.ScopeChange) {
		if err := d.syncSourceBreakpoints(ctx, breakpoint.Path); err != nil {
			// 断点保留在注册表中，保持未验证状态
			return id, err
		}
	}
	return id, nil
}

// RemoveBreakpoint 按内部id移除断点，并重新下发该源文件的断点列表
func (d *Debugger) RemoveBreakpoint(ctx context.Context, id int) error {
	logrus.Infof("[Debugger] RemoveBreakpoint, id = %d", id)
	if d.statusManager.Is(constants.Uninitialised, constants.Terminated) {
		return e.ErrNotConnected
	}
	breakpoint, err := d.registry.Remove(id)
	if err != nil {
		return err
	}
	if d.statusManager.Is(constants.Configuring, constants.Running, constants.Paused, constants.ScopeChange) {
		return d.syncSourceBreakpoints(ctx, breakpoint.Path)
	}
	return nil
}

// GetBreakpoints 当前的断点列表快照
func (d *Debugger) GetBreakpoints() []*Breakpoint {
	return d.registry.List()
}

// GetState 当前的调试状态，任意时刻可读
func (d *Debugger) GetState() *ProgramState {
	return d.publisher.Current()
}

// Subscribe 订阅状态变更
// 只会收到订阅之后的变更，当前状态通过GetState读取
func (d *Debugger) Subscribe() (<-chan *ProgramState, func()) {
	return d.publisher.Subscribe()
}

// GetCapabilities adapter在initialize响应中上报的能力集
func (d *Debugger) GetCapabilities() dap.Capabilities {
	return d.getCapabilities()
}

// Shutdown 终止调试
// 尽力通知adapter断开后关闭连接，可以重复调用，任何情况下不会panic
func (d *Debugger) Shutdown(ctx context.Context) error {
	logrus.Infof("[Debugger] Shutdown")
	defer func() {
		// shutdown可能在其他失败的收尾过程中被调用
		if err := recover(); err != nil {
			logrus.Errorf("[Debugger] shutdown panic recovered, err = %v", err)
		}
	}()
	if d.statusManager.Is(constants.Terminated) {
		return nil
	}
	if !d.statusManager.Is(constants.Uninitialised) {
		shutdownCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, shutdownGrace)
			defer cancel()
		}
		terminateDebuggee := d.option.TerminateDebuggee && d.getCapabilities().SupportTerminateDebuggee
		if _, err := d.sendAndWait(shutdownCtx, func(seq int) dap.Message {
			return &dap.DisconnectRequest{
				Request:   newRequest(seq, "disconnect"),
				Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
			}
		}); err != nil {
			logrus.Warnf("[Debugger] disconnect fail, err = %v", err)
		}
	}
	d.terminate(nil)
	return nil
}

// terminate 进入终止状态
// 只会生效一次：让所有等待中的请求收到错误，发布Terminated，关闭连接
func (d *Debugger) terminate(cause error) {
	d.terminateOnce.Do(func() {
		failure := fmt.Errorf("%w: connection closed", e.ErrCancelled)
		if cause != nil {
			failure = fmt.Errorf("%w: connection closed: %v", e.ErrTransport, cause)
		}
		d.statusManager.Set(constants.Terminated)
		d.runCancel()
		d.pending.failAll(failure)
		d.publisher.Publish(&ProgramState{
			State:       constants.Terminated,
			Breakpoints: d.registry.List(),
			Err:         cause,
		})
		d.publisher.Close()
		if err := d.conn.Close(); err != nil {
			logrus.Warnf("[Debugger] close connection fail, err = %v", err)
		}
		close(d.done)
	})
}

// sendAndWait 发送一个请求并等待响应
// 调用方的ctx没带deadline时套上默认超时，超时后撤销等待者，
// 迟到的响应由分发协程记录并丢弃
func (d *Debugger) sendAndWait(ctx context.Context, build func(seq int) dap.Message) (dap.ResponseMessage, error) {
	if d.statusManager.Is(constants.Terminated) {
		return nil, e.ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout())
		defer cancel()
	}
	seq := int(atomic.AddInt64(&d.seq, 1))
	waiter := d.pending.register(seq)
	if err := d.writer.WriteMessage(build(seq)); err != nil {
		// 编码或写出失败对连接是致命的
		d.pending.remove(seq)
		d.terminate(err)
		return nil, err
	}
	select {
	case result := <-waiter:
		if result.err != nil {
			return nil, result.err
		}
		if response := result.response.GetResponse(); !response.Success {
			return result.response, adapterError(result.response)
		}
		return result.response, nil
	case <-ctx.Done():
		d.pending.remove(seq)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no response for seq %d", e.ErrTimeout, seq)
		}
		return nil, e.ErrCancelled
	case <-d.done:
		d.pending.remove(seq)
		return nil, fmt.Errorf("%w: connection closed", e.ErrTransport)
	}
}

func (d *Debugger) requirePaused() error {
	if d.statusManager.Is(constants.Uninitialised, constants.Terminated) {
		return e.ErrNotConnected
	}
	if !d.statusManager.Is(constants.Paused, constants.ScopeChange) {
		return fmt.Errorf("%w: %s", e.ErrInvalidState, d.statusManager.Get())
	}
	return nil
}

func (d *Debugger) requireThread() (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.currentThreadID == 0 {
		return 0, e.ErrNoCurrentThread
	}
	return d.currentThreadID, nil
}

func (d *Debugger) staleEpoch(epoch int64) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return epoch != d.resumeEpoch
}

func (d *Debugger) getCapabilities() dap.Capabilities {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.capabilities
}

func (d *Debugger) requestTimeout() time.Duration {
	if d.option.RequestTimeout > 0 {
		return d.option.RequestTimeout
	}
	return DefaultRequestTimeout
}

// setState 状态变更唯一入口：更新状态机并发布快照
func (d *Debugger) setState(state constants.DebugState, snapshot *ProgramState) {
	d.statusManager.Set(state)
	d.publisher.Publish(snapshot)
}

func adapterError(message dap.ResponseMessage) error {
	response := message.GetResponse()
	detail := response.Message
	if errorResponse, ok := message.(*dap.ErrorResponse); ok && errorResponse.Body.Error != nil {
		detail = errorResponse.Body.Error.Format
	}
	if detail == "" {
		detail = fmt.Sprintf("%s request failed", response.Command)
	}
	return fmt.Errorf("%w: %s", e.ErrAdapterRefused, detail)
}

func newRequest(seq int, command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}
