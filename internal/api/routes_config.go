package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/protocol"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.Config.GetApplicationData()
	appData.API.Token = ""
	appData.MQTT.Password = ""

	c.JSON(http.StatusOK, gin.H{
		"login":            s.Config.GetLogin(),
		"application_data": appData,
	})
}

// handleSetCharServers replaces the server list sent with LoginAccepted.
// The list is saved to the config file, then used for new logins.
func (s *Server) handleSetCharServers(c *gin.Context) {
	var servers []config.CharServerConfig
	if err := c.ShouldBindJSON(&servers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(servers) > protocol.MaxServers {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d char servers", protocol.MaxServers)})
		return
	}

	codec, err := protocol.NewCodec(s.Config.GetLogin().ClientCharset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	descriptors := make([]protocol.ServerDescriptor, 0, len(servers))
	for i, cs := range servers {
		d, err := cs.Descriptor()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("char_servers[%d]: %v", i, err)})
			return
		}
		if err := codec.CheckServers([]protocol.ServerDescriptor{d}); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("char_servers[%d]: %v", i, err)})
			return
		}
		descriptors = append(descriptors, d)
	}

	prev := s.Config.GetLogin()
	login := prev
	login.CharServers = servers
	s.Config.SetLogin(login)
	if err := s.Config.Save(); err != nil {
		s.Config.SetLogin(prev)
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	if s.Servers != nil {
		s.Servers.SetServers(descriptors)
	}

	log.Info().Int("count", len(descriptors)).Str("client_ip", c.ClientIP()).Msg("API: char servers updated")
	c.JSON(http.StatusOK, gin.H{
		"status":       "updated",
		"char_servers": serverViews(descriptors),
	})
}
