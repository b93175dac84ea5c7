package debugger

import (
	"errors"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

func newTestResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
		RequestSeq:      requestSeq,
		Command:         command,
		Success:         true,
	}
}

// TestPendingComplete 响应交给对应的等待者
func TestPendingComplete(t *testing.T) {
	pending := newPendingRequests()
	waiter := pending.register(7)
	assert.True(t, pending.complete(7, newTestResponse(7, "threads")))
	result := <-waiter
	assert.Nil(t, result.err)
	assert.Equal(t, 7, result.response.GetResponse().RequestSeq)
}

// TestPendingDuplicateResponse 重复的响应被丢弃，不会panic
func TestPendingDuplicateResponse(t *testing.T) {
	pending := newPendingRequests()
	waiter := pending.register(7)
	assert.True(t, pending.complete(7, newTestResponse(7, "threads")))
	assert.False(t, pending.complete(7, newTestResponse(7, "threads")))
	result := <-waiter
	assert.Nil(t, result.err)
}

// TestPendingUnknownSeq 未知序列号的响应被丢弃
func TestPendingUnknownSeq(t *testing.T) {
	pending := newPendingRequests()
	assert.False(t, pending.complete(42, newTestResponse(42, "evaluate")))
}

// TestPendingDuplicateRegister 同一个序列号重复登记是引擎缺陷
func TestPendingDuplicateRegister(t *testing.T) {
	pending := newPendingRequests()
	pending.register(1)
	assert.Panics(t, func() { pending.register(1) })
}

// TestPendingRemoveIdempotent remove可以重复调用
func TestPendingRemoveIdempotent(t *testing.T) {
	pending := newPendingRequests()
	pending.register(3)
	pending.remove(3)
	pending.remove(3)
	assert.False(t, pending.complete(3, newTestResponse(3, "pause")))
}

// TestPendingFailAll 连接关闭时所有等待者收到同一个错误
func TestPendingFailAll(t *testing.T) {
	pending := newPendingRequests()
	first := pending.register(1)
	second := pending.register(2)
	cause := errors.New("connection closed")
	pending.failAll(cause)
	assert.Equal(t, cause, (<-first).err)
	assert.Equal(t, cause, (<-second).err)
	// 表已清空，新的登记不受影响
	assert.NotPanics(t, func() { pending.register(1) })
}
