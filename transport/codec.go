package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	e "github.com/fansqz/go-dap-client/error"
	"github.com/google/go-dap"
)

// DefaultMaxMessageSize 单条消息的默认上限，超过该大小视为连接损坏
const DefaultMaxMessageSize = 16 << 20

const contentLengthHeader = "content-length"

// MessageReader 流式解析adapter发来的DAP消息
// DAP的消息帧格式：
//
//	Content-Length: <n>\r\n
//	\r\n
//	<n字节的UTF-8 JSON>
//
// 头部key大小写不敏感，除Content-Length以外的头部全部忽略
type MessageReader struct {
	reader  *bufio.Reader
	maxSize int
}

func NewMessageReader(r io.Reader, maxSize int) *MessageReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &MessageReader{
		reader:  bufio.NewReader(r),
		maxSize: maxSize,
	}
}

// ReadMessage 读取一条完整的消息，阻塞直到消息完整或者流出错
// 半条消息不会产生任何结果，后续字节到达后从中断处继续
func (r *MessageReader) ReadMessage() (dap.Message, error) {
	contentLength, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	if contentLength > r.maxSize {
		// 超限视为流已不可信，由上层关闭连接
		return nil, fmt.Errorf("%w: message size %d exceeds limit %d", e.ErrTransport, contentLength, r.maxSize)
	}
	body := make([]byte, contentLength)
	if _, err = io.ReadFull(r.reader, body); err != nil {
		return nil, fmt.Errorf("%w: reading message body: %v", e.ErrTransport, err)
	}
	return decodeMessage(body)
}

// readHeader 解析头部，返回Content-Length的值
func (r *MessageReader) readHeader() (int, error) {
	contentLength := -1
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && contentLength == -1 {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: reading header: %v", e.ErrTransport, err)
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			// 空行表示头部结束
			if contentLength < 0 {
				return 0, fmt.Errorf("%w: missing Content-Length header", e.ErrDecode)
			}
			return contentLength, nil
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return 0, fmt.Errorf("%w: malformed header line %q", e.ErrDecode, line)
		}
		if strings.ToLower(strings.TrimSpace(key)) == contentLengthHeader {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return 0, fmt.Errorf("%w: malformed Content-Length %q", e.ErrDecode, strings.TrimSpace(value))
			}
			contentLength = n
		}
		// 其他头部忽略
	}
}

// decodeMessage 将消息体解析成具体的DAP消息
// 未知的command/event名称保留成基础消息类型，保证向前兼容
func decodeMessage(body []byte) (dap.Message, error) {
	msg, err := dap.DecodeProtocolMessage(body)
	if err == nil {
		return msg, nil
	}
	var fieldErr *dap.DecodeProtocolMessageFieldError
	if errors.As(err, &fieldErr) && (fieldErr.FieldName == "command" || fieldErr.FieldName == "event") {
		return decodeOpaqueMessage(body, fieldErr.SubType)
	}
	return nil, fmt.Errorf("%w: %v", e.ErrDecode, err)
}

func decodeOpaqueMessage(body []byte, subType string) (dap.Message, error) {
	var msg dap.Message
	// go-dap报告的SubType首字母大写（"Request"/"Response"/"Event"）
	switch strings.ToLower(subType) {
	case "request":
		msg = &dap.Request{}
	case "response":
		msg = &dap.Response{}
	case "event":
		msg = &dap.Event{}
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", e.ErrDecode, subType)
	}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrDecode, err)
	}
	return msg, nil
}
