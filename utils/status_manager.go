package utils

import (
	"sync"

	"github.com/fansqz/go-dap-client/constants"
)

// StatusManager 记录调试器的状态的
// 状态的变更和读取需要保证并发安全
type StatusManager struct {
	lock   sync.RWMutex
	status constants.DebugState
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: constants.Uninitialised,
	}
}

func (s *StatusManager) Set(status constants.DebugState) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() constants.DebugState {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...constants.DebugState) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
