// Package ginutil 管理接口用的gin封装
package ginutil

import (
	"net/http"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/**
  *  @author tryao
  *  @date 2022/07/25 15:58
**/

const metricsPath = "/metrics"

// InitRouter 创建带访问日志和panic恢复的router
func InitRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(AccessLogHandler(metricsPath))
	router.Use(RecoveryHandler())
	EnableLogSwitch(router)
	return router
}

// EnableMetrics 导出gatherer里的指标
func EnableMetrics(router gin.IRouter, gatherer prometheus.Gatherer) {
	router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

type levelBody struct {
	Level string `json:"level" binding:"required,oneof=debug info warn error"`
}

// EnableLogSwitch 运行时查看/切换日志级别
func EnableLogSwitch(router gin.IRouter) {
	router.GET("/log/level", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"level": log.Level()})
	})
	router.PUT("/log/level", func(c *gin.Context) {
		var body levelBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.SetLevel(body.Level)
		log.Info("log level switched to %s", body.Level)
		c.JSON(http.StatusOK, gin.H{"level": body.Level})
	})
}
