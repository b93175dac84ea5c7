package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/fansqz/go-dap-client/constants"
	"github.com/fansqz/go-dap-client/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// dispatch 事件分发循环，连接存续期间独占读端
// 响应交给等待者，事件按到达顺序应用到状态机，
// adapter发来的反向请求一律拒绝
func (d *Debugger) dispatch(ctx context.Context) {
	for {
		message, err := d.reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logrus.Infof("[Debugger] adapter closed the stream")
			} else {
				logrus.Errorf("[Debugger] read fail, err = %v", err)
			}
			d.terminate(err)
			return
		}
		switch m := message.(type) {
		case dap.ResponseMessage:
			d.onResponse(m)
		case dap.EventMessage:
			d.onEvent(m)
		case dap.RequestMessage:
			d.onReverseRequest(m)
		default:
			logrus.Warnf("[Debugger] unable to process %#v", message)
		}
	}
}

func (d *Debugger) onResponse(message dap.ResponseMessage) {
	response := message.GetResponse()
	if !d.pending.complete(response.RequestSeq, message) {
		// 等待者已经超时离开，或者adapter重复发了响应
		logrus.Warnf("[Debugger] dropping response for unknown request_seq %d (%s)",
			response.RequestSeq, response.Command)
	}
}

// onEvent 事件在这里同步应用到状态机，保证和到达顺序一致
// 需要等待后续响应的处理（配置阶段、stopped的跟进请求）转给单独的协程，
// 分发循环不能被占住
func (d *Debugger) onEvent(message dap.EventMessage) {
	switch event := message.(type) {
	case *dap.InitializedEvent:
		d.onInitializedEvent()
	case *dap.StoppedEvent:
		d.onStoppedEvent(event)
	case *dap.ContinuedEvent:
		d.onContinuedEvent()
	case *dap.TerminatedEvent:
		logrus.Infof("[Debugger] terminated event received")
		d.terminate(nil)
	case *dap.ExitedEvent:
		logrus.Infof("[Debugger] debuggee exited, code = %d", event.Body.ExitCode)
		d.terminate(nil)
	case *dap.OutputEvent:
		if d.option.OnOutput != nil {
			d.option.OnOutput(event.Body.Category, event.Body.Output)
		}
	case *dap.BreakpointEvent:
		d.onBreakpointEvent(event)
	case *dap.ThreadEvent:
		logrus.Infof("[Debugger] thread %d %s", event.Body.ThreadId, event.Body.Reason)
	default:
		logrus.Debugf("[Debugger] ignoring event %s", message.GetEvent().Event)
	}
}

func (d *Debugger) onInitializedEvent() {
	logrus.Infof("[Debugger] initialized event received, entering configuration")
	d.setState(constants.Configuring, &ProgramState{
		State:       constants.Configuring,
		Breakpoints: d.registry.List(),
	})
	gosync.Go(d.runCtx, d.applyConfiguration)
}

func (d *Debugger) onStoppedEvent(event *dap.StoppedEvent) {
	d.mutex.Lock()
	if event.Body.ThreadId != 0 {
		d.currentThreadID = event.Body.ThreadId
	}
	threadID := d.currentThreadID
	epoch := d.resumeEpoch
	d.mutex.Unlock()
	reason := event.Body.Reason
	logrus.Infof("[Debugger] stopped, reason = %s, thread = %d", reason, threadID)
	gosync.Go(d.runCtx, func(ctx context.Context) {
		d.fetchStoppedState(ctx, epoch, threadID, reason)
	})
}

func (d *Debugger) onContinuedEvent() {
	d.mutex.Lock()
	d.currentThreadID = 0
	d.mutex.Unlock()
	d.resume()
}

// onBreakpointEvent adapter主动修正断点信息
func (d *Debugger) onBreakpointEvent(event *dap.BreakpointEvent) {
	updated := event.Body.Breakpoint
	if !d.registry.UpdateFromAdapter(updated) {
		logrus.Infof("[Debugger] breakpoint event for unknown adapter id %d (%s)",
			updated.Id, event.Body.Reason)
	}
}

// onReverseRequest adapter到客户端的反向请求（例如runInTerminal）
// 统一以失败响应拒绝
func (d *Debugger) onReverseRequest(request dap.RequestMessage) {
	base := request.GetRequest()
	logrus.Warnf("[Debugger] reverse request %s is not supported", base.Command)
	seq := int(atomic.AddInt64(&d.seq, 1))
	response := newErrorResponse(seq, base.Seq, base.Command,
		fmt.Sprintf("%s is not supported by this client", base.Command))
	if err := d.writer.WriteMessage(response); err != nil {
		logrus.Errorf("[Debugger] reject reverse request fail, err = %v", err)
	}
}

func newErrorResponse(seq int, requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.ProtocolMessage = dap.ProtocolMessage{Seq: seq, Type: "response"}
	er.Command = command
	er.RequestSeq = requestSeq
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{Id: 10001, Format: message}
	return er
}
