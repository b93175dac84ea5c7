package persistence

import (
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// DocumentVersion 当前支持的持久化文档版本
const DocumentVersion = "0.1.0"

// Document 外部持久化的断点文档
// 文件读写由调用方负责，这里只做解析和校验
// 未知字段忽略，文档缺失或者损坏按空文档处理
type Document struct {
	Version  string    `json:"version"`
	Projects []Project `json:"projects"`
}

// Project 一个工程和它保存的断点
type Project struct {
	Path        string       `json:"path"`
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// Breakpoint 持久化的断点记录，行号从1开始
type Breakpoint struct {
	Name *string `json:"name"`
	Path string  `json:"path"`
	Line int     `json:"line"`
}

// Parse 解析持久化文档
// 解析失败不报错：记录告警并返回空文档，调试可以继续
func Parse(data []byte) *Document {
	document := &Document{}
	if len(data) == 0 {
		logrus.Warnf("[persistence] empty document, starting with no saved breakpoints")
		return &Document{Version: DocumentVersion}
	}
	if err := json.Unmarshal(data, document); err != nil {
		logrus.Warnf("[persistence] unparseable document, starting with no saved breakpoints, err = %v", err)
		return &Document{Version: DocumentVersion}
	}
	if document.Version != DocumentVersion {
		logrus.Warnf("[persistence] unexpected document version %q", document.Version)
	}
	for i := range document.Projects {
		document.Projects[i].Breakpoints = validBreakpoints(document.Projects[i].Breakpoints)
	}
	return document
}

func validBreakpoints(breakpoints []Breakpoint) []Breakpoint {
	result := breakpoints[:0]
	for _, bp := range breakpoints {
		if bp.Path == "" || bp.Line < 1 {
			logrus.Warnf("[persistence] dropping invalid breakpoint %q:%d", bp.Path, bp.Line)
			continue
		}
		result = append(result, bp)
	}
	return result
}

// ProjectFor 按工程路径查找保存的断点
func (d *Document) ProjectFor(path string) *Project {
	for i := range d.Projects {
		if d.Projects[i].Path == path {
			return &d.Projects[i]
		}
	}
	return nil
}

// Marshal 序列化成持久化文档，由调用方落盘
func (d *Document) Marshal() ([]byte, error) {
	if d.Version == "" {
		d.Version = DocumentVersion
	}
	return json.MarshalIndent(d, "", "  ")
}
