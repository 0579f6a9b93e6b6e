package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Fields 附加在每行日志前的上下文，创建后只读，可在协程间共享
type Fields map[string]any

const prefixKey = "__prefix__"

// String 输出形如 "[prefix] a=1 b=2"，key有序
func (f Fields) String() string {
	keys := lo.Without(lo.Keys(f), prefixKey)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	if p, ok := f[prefixKey]; ok {
		parts = append(parts, fmt.Sprintf("[%v]", p))
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%+v", k, f[k]))
	}
	return strings.Join(parts, " ")
}

// With 返回新的Fields，不修改f
func (f Fields) With(key string, value any) Fields {
	all := lo.Assign(f)
	all[key] = value
	return all
}

func (f Fields) WithPrefix(prefix string) Fields {
	return f.With(prefixKey, prefix)
}

func (f Fields) format(format string) string {
	return f.String() + " " + format
}

func (f Fields) Debug(format string, a ...any) {
	if IsDebugEnabled() {
		logger().Debugf(f.format(format), a...)
	}
}

func (f Fields) Info(format string, a ...any) {
	logger().Infof(f.format(format), a...)
}

func (f Fields) Warn(format string, a ...any) {
	logger().Warnf(f.format(format), a...)
}

func (f Fields) Error(format string, a ...any) {
	logger().Errorf(f.format(format), a...)
}
