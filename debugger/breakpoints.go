package debugger

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	e "github.com/fansqz/go-dap-client/error"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// breakpointRegistry 断点注册表
// 内部id到断点的映射，保持添加顺序，
// setBreakpoints请求按该顺序构造，响应按位置对应回写adapter的id
type breakpointRegistry struct {
	mutex       sync.Mutex
	breakpoints *linkedhashmap.Map // 内部id -> *Breakpoint
	nextID      int
}

func newBreakpointRegistry() *breakpointRegistry {
	return &breakpointRegistry{
		breakpoints: linkedhashmap.New(),
	}
}

// Add 添加断点并分配内部id，(path, line)相同的断点会被拒绝
func (r *breakpointRegistry) Add(breakpoint *Breakpoint) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	it := r.breakpoints.Iterator()
	for it.Next() {
		bp := it.Value().(*Breakpoint)
		if bp.Path == breakpoint.Path && bp.Line == breakpoint.Line {
			return 0, fmt.Errorf("%w: %s:%d", e.ErrDuplicateBreakpoint, breakpoint.Path, breakpoint.Line)
		}
	}
	r.nextID++
	breakpoint.ID = r.nextID
	breakpoint.Enabled = true
	breakpoint.Verified = false
	breakpoint.AdapterID = 0
	r.breakpoints.Put(breakpoint.ID, breakpoint)
	return breakpoint.ID, nil
}

// Remove 按内部id移除断点，返回被移除的断点
func (r *breakpointRegistry) Remove(id int) (*Breakpoint, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	value, ok := r.breakpoints.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", e.ErrBreakpointNotFound, id)
	}
	r.breakpoints.Remove(id)
	return value.(*Breakpoint), nil
}

// Get 按内部id查找断点
func (r *breakpointRegistry) Get(id int) (*Breakpoint, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	value, ok := r.breakpoints.Get(id)
	if !ok {
		return nil, false
	}
	return value.(*Breakpoint), true
}

// List 全部断点的快照，返回的是副本
func (r *breakpointRegistry) List() []*Breakpoint {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	result := make([]*Breakpoint, 0, r.breakpoints.Size())
	it := r.breakpoints.Iterator()
	for it.Next() {
		bp := *(it.Value().(*Breakpoint))
		result = append(result, &bp)
	}
	return result
}

// ListBySource 某个源文件下的断点快照，保持添加顺序
func (r *breakpointRegistry) ListBySource(path string) []*Breakpoint {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var result []*Breakpoint
	it := r.breakpoints.Iterator()
	for it.Next() {
		if bp := it.Value().(*Breakpoint); bp.Path == path {
			copied := *bp
			result = append(result, &copied)
		}
	}
	return result
}

// Sources 所有存在断点的源文件，保持首次出现顺序
func (r *breakpointRegistry) Sources() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	seen := make(map[string]bool)
	var sources []string
	it := r.breakpoints.Iterator()
	for it.Next() {
		bp := it.Value().(*Breakpoint)
		if !seen[bp.Path] {
			seen[bp.Path] = true
			sources = append(sources, bp.Path)
		}
	}
	return sources
}

// Resync 根据setBreakpoints响应回写adapter分配的id和verified标记
// sent是请求中按序发送的断点，returned是响应中按序返回的描述
// 数量不一致时记录日志，缺少对应项的断点回退成未验证
func (r *breakpointRegistry) Resync(sent []*Breakpoint, returned []dap.Breakpoint) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(sent) != len(returned) {
		logrus.Warnf("[breakpointRegistry] setBreakpoints returned %d entries for %d requested, falling back to unverified",
			len(returned), len(sent))
	}
	for i, requested := range sent {
		value, ok := r.breakpoints.Get(requested.ID)
		if !ok {
			// 响应在途期间断点被移除
			continue
		}
		bp := value.(*Breakpoint)
		if i < len(returned) {
			bp.AdapterID = returned[i].Id
			bp.Verified = returned[i].Verified
		} else {
			bp.AdapterID = 0
			bp.Verified = false
		}
	}
}

// UpdateFromAdapter 根据breakpoint事件更新断点的验证状态
// 只按adapter分配的id匹配，没有匹配项时返回false
func (r *breakpointRegistry) UpdateFromAdapter(updated dap.Breakpoint) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	it := r.breakpoints.Iterator()
	for it.Next() {
		bp := it.Value().(*Breakpoint)
		if bp.AdapterID != 0 && bp.AdapterID == updated.Id {
			bp.Verified = updated.Verified
			return true
		}
	}
	return false
}

// MarkUnverified 某个源文件的断点全部回退成未验证
func (r *breakpointRegistry) MarkUnverified(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	it := r.breakpoints.Iterator()
	for it.Next() {
		if bp := it.Value().(*Breakpoint); bp.Path == path {
			bp.Verified = false
		}
	}
}
