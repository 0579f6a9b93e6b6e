package ginutil

/**  gin的日志和panic恢复中间件，输出到base/log
  *  @author tryao
  *  @date 2022/03/22 14:50
**/

import (
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// AccessLogHandler 每个请求一行debug日志，出错的请求打印error
func AccessLogHandler(skipPath ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// 之后的中间件可能改写这两个值
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		c.Next()

		if lo.Contains(skipPath, path) {
			return
		}
		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				log.Error("%s %s: %s", c.Request.Method, path, e)
			}
			return
		}
		log.Debug("%s %s Q:%s ST:%d IP:%s LAT:%s", c.Request.Method, path, query,
			c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func isBrokenPipe(err any) bool {
	e, ok := err.(error)
	if !ok {
		return false
	}
	var se *os.SyscallError
	var ne *net.OpError
	if !errors.As(e, &ne) || !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

// RecoveryHandler panic时返回500，对端已断开时不再写响应
func RecoveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				req, _ := httputil.DumpRequest(c.Request, false)
				if isBrokenPipe(err) {
					log.Error("broken connection when request %s: %v", c.Request.URL.Path, err)
					_ = c.Error(err.(error))
					c.Abort()
					return
				}
				log.PanicStack("gin panic, request: "+string(req), err)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
