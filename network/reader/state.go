// Package reader 每个传输通道一个读协程，负责分帧并把消息交给分发函数
package reader

import "fmt"

const (
	Created int32 = iota
	Running
	Stopped
)

func stateName(s int32) string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}
