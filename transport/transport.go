package transport

import (
	"fmt"
	"io"
	"sync"

	e "github.com/fansqz/go-dap-client/error"
	"github.com/google/go-dap"
)

// Conn 一条到debug adapter的连接
// 只负责消息的收发，不做请求关联、事件路由，也不持有任何后台协程
// 底层字节流可以是tcp连接、stdio管道，测试中用net.Pipe代替
type Conn struct {
	rwc    io.ReadWriteCloser
	reader *MessageReader
	writer *MessageWriter
}

// Option 连接的可选配置
type Option func(*options)

type options struct {
	maxMessageSize int
}

// WithMaxMessageSize 设置单条消息的大小上限
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		o.maxMessageSize = n
	}
}

func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	o := &options{maxMessageSize: DefaultMaxMessageSize}
	for _, opt := range opts {
		opt(o)
	}
	return &Conn{
		rwc:    rwc,
		reader: NewMessageReader(rwc, o.maxMessageSize),
		writer: NewMessageWriter(rwc),
	}
}

// ReadMessage 读取一条消息，阻塞调用
func (c *Conn) ReadMessage() (dap.Message, error) {
	return c.reader.ReadMessage()
}

// WriteMessage 写出一条消息，并发调用时内部串行
func (c *Conn) WriteMessage(message dap.Message) error {
	return c.writer.WriteMessage(message)
}

// Split 拆分出读写两半，读端交给单独的协程持有
func (c *Conn) Split() (*MessageReader, *MessageWriter) {
	return c.reader, c.writer
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}

// MessageWriter 连接的写半边
// 写锁只在一次序列化加写出期间持有
type MessageWriter struct {
	mutex  sync.Mutex
	writer io.Writer
}

func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{writer: w}
}

func (w *MessageWriter) WriteMessage(message dap.Message) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := dap.WriteProtocolMessage(w.writer, message); err != nil {
		// 编码或写出失败对连接都是致命的
		return fmt.Errorf("%w: %v", e.ErrTransport, err)
	}
	return nil
}
