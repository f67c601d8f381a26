package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "urd",
		"version": s.Version,
	})
}

// serverView is the JSON form of a char-server descriptor.
type serverView struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
	Users  uint16 `json:"users"`
	Status string `json:"status"`
	IsNew  bool   `json:"is_new"`
}

func serverViews(servers []protocol.ServerDescriptor) []serverView {
	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		views = append(views, serverView{
			Name:   srv.Name,
			IP:     srv.IP.String(),
			Port:   srv.Port,
			Users:  srv.Users,
			Status: srv.Status.String(),
			IsNew:  srv.IsNew,
		})
	}
	return views
}

// handleStatus reports uptime, load and the advertised server list.
func (s *Server) handleStatus(c *gin.Context) {
	connections := 0
	if s.Connections != nil {
		connections = s.Connections()
	}

	var servers []serverView
	if s.Servers != nil {
		servers = serverViews(s.Servers.Servers())
	}

	resp := gin.H{
		"version":        s.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"connections":    connections,
		"sessions":       s.Registry.Count(),
		"char_servers":   servers,
		"host":           util.GetSystemInfo(),
	}
	if s.Health != nil {
		resp["char_server_health"] = s.Health.Statuses()
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}

	c.JSON(http.StatusOK, resp)
}
