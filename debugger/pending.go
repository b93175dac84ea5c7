package debugger

import (
	"fmt"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// pendingResult 一次请求的最终结果，响应和错误二选一
type pendingResult struct {
	response dap.ResponseMessage
	err      error
}

// pendingRequests 请求序列号到等待者的映射
// 每个序列号至多一个等待者，响应到达后等待者被移除并收到结果
// 锁只在增删查期间持有，不会跨越任何等待
type pendingRequests struct {
	mutex   sync.Mutex
	waiters map[int]chan pendingResult
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		waiters: make(map[int]chan pendingResult),
	}
}

// register 登记一个等待者，返回接收结果的通道
// 同一个序列号重复登记说明引擎内部出错，直接panic
func (p *pendingRequests) register(seq int) chan pendingResult {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.waiters[seq]; ok {
		panic(fmt.Sprintf("pending request %d already registered", seq))
	}
	// 容量为1，completion不会被慢等待者阻塞
	ch := make(chan pendingResult, 1)
	p.waiters[seq] = ch
	return ch
}

// complete 将响应交给对应的等待者
// 没有等待者时返回false，由调用方记录并丢弃
func (p *pendingRequests) complete(seq int, response dap.ResponseMessage) bool {
	p.mutex.Lock()
	ch, ok := p.waiters[seq]
	if ok {
		delete(p.waiters, seq)
	}
	p.mutex.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{response: response}
	return true
}

// remove 撤销等待者，调用方超时或取消时使用，可以重复调用
func (p *pendingRequests) remove(seq int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.waiters, seq)
}

// failAll 连接关闭时让所有未完成的等待者收到同一个错误
func (p *pendingRequests) failAll(err error) {
	p.mutex.Lock()
	waiters := p.waiters
	p.waiters = make(map[int]chan pendingResult)
	p.mutex.Unlock()
	if len(waiters) > 0 {
		logrus.Infof("[pendingRequests] failing %d outstanding requests, err = %v", len(waiters), err)
	}
	for _, ch := range waiters {
		ch <- pendingResult{err: err}
	}
}
