package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/fansqz/go-dap-client/constants"
	e "github.com/fansqz/go-dap-client/error"
	"github.com/fansqz/go-dap-client/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const (
	// DefaultDialTimeout tcp模式下等待adapter开始监听的时间
	DefaultDialTimeout = time.Second * 5
	dialRetryInterval  = time.Millisecond * 100
)

// ConsoleCallback 被调试程序终端输出的回调
type ConsoleCallback func(output string)

// Option 启动adapter进程的参数
type Option struct {
	// Command adapter的启动命令及参数
	Command []string
	// Addr tcp模式下adapter的监听地址，为空则走stdio
	Addr string
	// WorkDir adapter进程的工作目录
	WorkDir string
	// DialTimeout tcp模式下的连接超时
	DialTimeout time.Duration
	// UsePTY 是否在伪终端中启动adapter
	// 被调试程序共享adapter的终端时可以保持交互式输入输出
	UsePTY bool
	// OnConsole 终端输出回调，UsePTY时有效
	OnConsole ConsoleCallback
}

// Adapter 一个已启动的debug adapter进程
// 负责进程的生命周期和到它的字节流，DAP协议本身由debugger包处理
type Adapter struct {
	cmd *exec.Cmd
	ptm *os.File
	rwc io.ReadWriteCloser
}

// Start 启动adapter进程并建立连接
func Start(ctx context.Context, option *Option) (*Adapter, error) {
	if len(option.Command) == 0 && option.Addr == "" {
		return nil, fmt.Errorf("no adapter command or address")
	}
	a := &Adapter{}

	if len(option.Command) > 0 {
		if err := a.spawn(ctx, option); err != nil {
			return nil, err
		}
	}

	if option.Addr != "" {
		conn, err := dialWithRetry(ctx, option)
		if err != nil {
			a.Stop()
			return nil, err
		}
		a.rwc = conn
	}
	return a, nil
}

// spawn 启动adapter进程
// stdio模式下进程的标准输入输出就是DAP字节流
// tcp模式下可以把进程放进伪终端，调试目标的控制台保持可交互
func (a *Adapter) spawn(ctx context.Context, option *Option) error {
	logrus.Infof("[Adapter] starting %v", option.Command)
	cmd := exec.Command(option.Command[0], option.Command[1:]...)
	cmd.Dir = option.WorkDir
	a.cmd = cmd

	if option.Addr == "" {
		// stdio模式
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("%w: %v", e.ErrTransport, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("%w: %v", e.ErrTransport, err)
		}
		cmd.Stderr = os.Stderr
		if err = cmd.Start(); err != nil {
			return fmt.Errorf("%w: starting adapter: %v", e.ErrTransport, err)
		}
		a.rwc = &stdioConn{reader: stdout, writer: stdin}
		return nil
	}

	if option.UsePTY {
		// 启动一个虚拟终端承载adapter和被调试程序
		ptm, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("%w: pty start: %v", e.ErrTransport, err)
		}
		if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
			logrus.Errorf("[Adapter] make raw fail, err = %v", err)
		}
		if err = syscall.SetNonblock(int(ptm.Fd()), false); err != nil {
			logrus.Errorf("[Adapter] SetNonblock fail, err = %v", err)
		}
		a.ptm = ptm
		// 启动协程循环读取终端输出
		gosync.Go(ctx, func(ctx context.Context) {
			a.processConsoleOutput(option.OnConsole)
		})
		return nil
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting adapter: %v", e.ErrTransport, err)
	}
	return nil
}

// processConsoleOutput 循环处理终端输出
func (a *Adapter) processConsoleOutput(callback ConsoleCallback) {
	b := make([]byte, 1024)
	for {
		n, err := a.ptm.Read(b)
		if err != nil {
			return
		}
		if callback != nil {
			callback(string(b[0:n]))
		}
	}
}

// SendConsole 输入到被调试程序的终端
func (a *Adapter) SendConsole(input string) error {
	if a.ptm == nil {
		return fmt.Errorf("%w: adapter has no terminal", e.ErrInvalidState)
	}
	if _, err := a.ptm.Write([]byte(input)); err != nil {
		return err
	}
	return nil
}

// Conn 到adapter的字节流，交给debugger.NewDebugger使用
func (a *Adapter) Conn() io.ReadWriteCloser {
	return a.rwc
}

// Stop 结束adapter进程并关闭连接
// 收尾路径，任何失败只记录不上抛
func (a *Adapter) Stop() {
	if a.rwc != nil {
		if err := a.rwc.Close(); err != nil {
			logrus.Warnf("[Adapter] close connection fail, err = %v", err)
		}
	}
	if a.ptm != nil {
		if err := a.ptm.Close(); err != nil {
			logrus.Warnf("[Adapter] close pty fail, err = %v", err)
		}
	}
	if a.cmd != nil && a.cmd.Process != nil {
		if err := a.cmd.Process.Kill(); err != nil {
			logrus.Warnf("[Adapter] kill adapter fail, err = %v", err)
		}
		_ = a.cmd.Wait()
	}
}

// dialWithRetry adapter监听端口需要一点时间，失败后间隔重试直到超时
func dialWithRetry(ctx context.Context, option *Option) (net.Conn, error) {
	timeout := option.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, e.ErrCancelled
		}
		conn, err := net.DialTimeout("tcp", option.Addr, timeout)
		if err == nil {
			logrus.Infof("[Adapter] connected to %s", option.Addr)
			return conn, nil
		}
		lastErr = err
		time.Sleep(dialRetryInterval)
	}
	return nil, fmt.Errorf("%w: dialing %s: %v", e.ErrTransport, option.Addr, lastErr)
}

// DefaultCommand 根据调试语言给出默认的adapter启动命令
func DefaultCommand(language constants.LanguageType, addr string) ([]string, error) {
	switch language {
	case constants.LanguageGo:
		return []string{"dlv", "dap", "--listen", addr}, nil
	case constants.LanguagePython:
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return []string{"python", "-m", "debugpy.adapter", "--host", host, "--port", port}, nil
	case constants.LanguageC, constants.LanguageCpp:
		return []string{"gdb", "-i", "dap"}, nil
	default:
		return nil, fmt.Errorf("language %s not supported", language)
	}
}

// stdioConn 把子进程的标准输入输出拼成一条双向字节流
type stdioConn struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (c *stdioConn) Read(p []byte) (int, error)  { return c.reader.Read(p) }
func (c *stdioConn) Write(p []byte) (int, error) { return c.writer.Write(p) }

func (c *stdioConn) Close() error {
	err := c.writer.Close()
	if closeErr := c.reader.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
