package main

import (
	"net/http"
	"strconv"

	"github.com/YiuTerran/duplex/ginutil"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/server"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

type connectionView struct {
	ID         int64          `json:"id"`
	Reliable   string         `json:"reliable"`
	Fast       string         `json:"fast,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func viewOf(conn *server.Connection) connectionView {
	v := connectionView{ID: conn.ID()}
	if ep := conn.Endpoint(network.ChannelReliable); ep != nil {
		v.Reliable = ep.Address()
	}
	if ep := conn.Endpoint(network.ChannelUnreliable); ep != nil {
		v.Fast = ep.Address()
	}
	names := conn.AttributeNames()
	if len(names) > 0 {
		v.Attributes = lo.SliceToMap(names, func(name string) (string, any) {
			value, _ := conn.Attribute(name)
			return name, value
		})
	}
	return v
}

func connectionOf(s *server.Server, c *gin.Context) *server.Connection {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return nil
	}
	conn := s.Connection(id)
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	}
	return conn
}

// newAdminRouter 在线连接的查看和踢出
func newAdminRouter(s *server.Server, gatherer prometheus.Gatherer) *gin.Engine {
	router := ginutil.InitRouter()
	ginutil.EnableMetrics(router, gatherer)
	router.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, lo.Map(s.Connections(), func(conn *server.Connection, _ int) connectionView {
			return viewOf(conn)
		}))
	})
	router.GET("/connections/:id", func(c *gin.Context) {
		if conn := connectionOf(s, c); conn != nil {
			c.JSON(http.StatusOK, viewOf(conn))
		}
	})
	router.DELETE("/connections/:id", func(c *gin.Context) {
		conn := connectionOf(s, c)
		if conn == nil {
			return
		}
		reason := c.DefaultQuery("reason", "kicked by admin")
		if err := conn.Close(reason); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
	return router
}
