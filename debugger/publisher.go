package debugger

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberBufferSize 每个订阅者的事件缓冲
const subscriberBufferSize = 16

// statePublisher 状态广播器
// 订阅者只会收到订阅之后的状态变更，历史状态通过Current读取
// 慢订阅者会丢掉最旧的状态，但收到的状态之间保持发布顺序
type statePublisher struct {
	mutex       sync.Mutex
	current     *ProgramState
	subscribers map[int]chan *ProgramState
	nextID      int
	closed      bool
}

func newStatePublisher(initial *ProgramState) *statePublisher {
	return &statePublisher{
		current:     initial,
		subscribers: make(map[int]chan *ProgramState),
	}
}

// Current 当前状态，任意时刻可同步读取
func (p *statePublisher) Current() *ProgramState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

// Subscribe 订阅状态变更，返回的取消函数可以重复调用
func (p *statePublisher) Subscribe() (<-chan *ProgramState, func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	ch := make(chan *ProgramState, subscriberBufferSize)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch
	cancel := func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish 广播一次状态变更
func (p *statePublisher) Publish(state *ProgramState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.current = state
	if p.closed {
		return
	}
	for id, ch := range p.subscribers {
		select {
		case ch <- state:
		default:
			// 订阅者消费太慢，丢掉最旧的一条再入队，顺序不变
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
				logrus.Warnf("[statePublisher] subscriber %d missed state %s", id, state.State)
			}
		}
	}
}

// Close 结束广播，关闭所有订阅通道
func (p *statePublisher) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = make(map[int]chan *ProgramState)
}
