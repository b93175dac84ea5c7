package transport

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	e "github.com/fansqz/go-dap-client/error"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

// TestRoundTrip 编码再解码得到结构相等的消息
func TestRoundTrip(t *testing.T) {
	messages := []dap.Message{
		&dap.InitializeRequest{
			Request: dap.Request{
				ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
				Command:         "initialize",
			},
			Arguments: dap.InitializeRequestArguments{
				ClientID:        "go-dap-client",
				AdapterID:       "python",
				LinesStartAt1:   true,
				ColumnsStartAt1: true,
				PathFormat:      "path",
			},
		},
		&dap.StackTraceResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "response"},
				Command:         "stackTrace",
				RequestSeq:      5,
				Success:         true,
			},
			Body: dap.StackTraceResponseBody{
				StackFrames: []dap.StackFrame{
					{Id: 100, Name: "main", Source: &dap.Source{Name: "test.py", Path: "/tmp/test.py"}, Line: 4, Column: 1},
				},
				TotalFrames: 1,
			},
		},
		&dap.StoppedEvent{
			Event: dap.Event{
				ProtocolMessage: dap.ProtocolMessage{Seq: 3, Type: "event"},
				Event:           "stopped",
			},
			Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
		},
	}

	var buffer bytes.Buffer
	writer := NewMessageWriter(&buffer)
	for _, message := range messages {
		assert.Nil(t, writer.WriteMessage(message))
	}

	reader := NewMessageReader(&buffer, 0)
	for _, expected := range messages {
		actual, err := reader.ReadMessage()
		assert.Nil(t, err)
		assert.Equal(t, expected, actual)
	}
}

// TestPartialHeader 半个头部不产生消息，后续字节到达后解析完成
func TestPartialHeader(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	reader := NewMessageReader(server, 0)

	results := make(chan dap.Message, 1)
	go func() {
		message, err := reader.ReadMessage()
		assert.Nil(t, err)
		results <- message
	}()

	body := `{"seq":1,"type":"event","event":"initialized"}`
	full := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	// 先写半个头部
	go client.Write([]byte(full[:10]))
	select {
	case <-results:
		t.Fatal("message produced from a partial header")
	case <-time.After(50 * time.Millisecond):
	}
	// 剩下的字节到达后消息完整
	go client.Write([]byte(full[10:]))
	select {
	case message := <-results:
		assert.Equal(t, "initialized", message.(*dap.InitializedEvent).Event.Event)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// TestChunkedBody 消息体分多块到达
func TestChunkedBody(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	reader := NewMessageReader(server, 0)

	results := make(chan dap.Message, 1)
	go func() {
		message, err := reader.ReadMessage()
		assert.Nil(t, err)
		results <- message
	}()

	body := `{"seq":7,"type":"event","event":"terminated"}`
	go func() {
		client.Write([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))))
		client.Write([]byte(body[:15]))
		time.Sleep(20 * time.Millisecond)
		client.Write([]byte(body[15:]))
	}()
	select {
	case message := <-results:
		assert.Equal(t, 7, message.GetSeq())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// TestHeaderCaseInsensitive 头部key大小写不敏感
func TestHeaderCaseInsensitive(t *testing.T) {
	body := `{"seq":1,"type":"event","event":"initialized"}`
	data := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(body), body)
	reader := NewMessageReader(bytes.NewReader([]byte(data)), 0)
	message, err := reader.ReadMessage()
	assert.Nil(t, err)
	assert.IsType(t, &dap.InitializedEvent{}, message)
}

// TestExtraHeadersIgnored 除Content-Length以外的头部忽略
func TestExtraHeadersIgnored(t *testing.T) {
	body := `{"seq":1,"type":"event","event":"initialized"}`
	data := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	reader := NewMessageReader(bytes.NewReader([]byte(data)), 0)
	message, err := reader.ReadMessage()
	assert.Nil(t, err)
	assert.IsType(t, &dap.InitializedEvent{}, message)
}

// TestMissingContentLength 缺少Content-Length是解码错误
func TestMissingContentLength(t *testing.T) {
	reader := NewMessageReader(bytes.NewReader([]byte("Content-Type: application/json\r\n\r\n{}")), 0)
	_, err := reader.ReadMessage()
	assert.ErrorIs(t, err, e.ErrDecode)
}

// TestMalformedContentLength Content-Length不是整数是解码错误
func TestMalformedContentLength(t *testing.T) {
	reader := NewMessageReader(bytes.NewReader([]byte("Content-Length: abc\r\n\r\n{}")), 0)
	_, err := reader.ReadMessage()
	assert.ErrorIs(t, err, e.ErrDecode)
}

// TestMessageTooLarge 超过配置上限的消息以传输错误结束
func TestMessageTooLarge(t *testing.T) {
	reader := NewMessageReader(bytes.NewReader([]byte("Content-Length: 1024\r\n\r\n")), 64)
	_, err := reader.ReadMessage()
	assert.ErrorIs(t, err, e.ErrTransport)
}

// TestUnknownEventKept 未知的event名称保留成基础消息，保证向前兼容
func TestUnknownEventKept(t *testing.T) {
	body := `{"seq":9,"type":"event","event":"someCustomEvent"}`
	data := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	reader := NewMessageReader(bytes.NewReader([]byte(data)), 0)
	message, err := reader.ReadMessage()
	assert.Nil(t, err)
	event, ok := message.(*dap.Event)
	assert.True(t, ok)
	assert.Equal(t, "someCustomEvent", event.Event)
}

// TestUnknownCommandKept 未知的command名称保留成基础消息
func TestUnknownCommandKept(t *testing.T) {
	body := `{"seq":3,"type":"request","command":"customRequest"}`
	data := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	reader := NewMessageReader(bytes.NewReader([]byte(data)), 0)
	message, err := reader.ReadMessage()
	assert.Nil(t, err)
	request, ok := message.(*dap.Request)
	assert.True(t, ok)
	assert.Equal(t, "customRequest", request.Command)
}

// TestUnknownType 未知的type是解码错误
func TestUnknownType(t *testing.T) {
	body := `{"seq":3,"type":"banana"}`
	data := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	reader := NewMessageReader(bytes.NewReader([]byte(data)), 0)
	_, err := reader.ReadMessage()
	assert.ErrorIs(t, err, e.ErrDecode)
}

// TestConcurrentWriters 并发写出的消息逐条完整
func TestConcurrentWriters(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	writer := NewMessageWriter(client)
	reader := NewMessageReader(server, 0)

	const count = 20
	for i := 0; i < count; i++ {
		go func(seq int) {
			event := &dap.ContinuedEvent{
				Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"}, Event: "continued"},
				Body:  dap.ContinuedEventBody{ThreadId: seq},
			}
			assert.Nil(t, writer.WriteMessage(event))
		}(i + 1)
	}
	seen := make(map[int]bool)
	for i := 0; i < count; i++ {
		message, err := reader.ReadMessage()
		assert.Nil(t, err)
		event, ok := message.(*dap.ContinuedEvent)
		assert.True(t, ok)
		assert.False(t, seen[event.Seq])
		seen[event.Seq] = true
	}
}
