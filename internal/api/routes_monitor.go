package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/account"
)

const (
	defaultLogCount = 50
	maxLogCount     = 1000
)

func (s *Server) handleLoginLog(c *gin.Context) {
	if s.LoginLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login log is not enabled"})
		return
	}

	count := defaultLogCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		count = n
	}
	if count > maxLogCount {
		count = maxLogCount
	}

	entries, err := s.LoginLog.Recent(c.Request.Context(), count)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read login log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read login log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// accountView adds the fields Account keeps out of its JSON form.
type accountView struct {
	account.Account
	Sex   string `json:"sex"`
	State string `json:"state"`
}

func (s *Server) handleListAccounts(c *gin.Context) {
	if s.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account database is not enabled"})
		return
	}

	accounts, err := s.Accounts.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to list accounts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, accountView{Account: acc, Sex: acc.Sex.Char(), State: acc.State.String()})
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": views,
		"total":    len(views),
	})
}

func (s *Server) handleBlockAccount(c *gin.Context) {
	s.setAccountState(c, account.StateBlocked)
}

func (s *Server) handleUnblockAccount(c *gin.Context) {
	s.setAccountState(c, account.StateActive)
}

func (s *Server) setAccountState(c *gin.Context, state account.State) {
	if s.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account database is not enabled"})
		return
	}

	userID := c.Param("userid")
	if err := s.Accounts.SetState(c.Request.Context(), userID, state); err != nil {
		s.accountError(c, userID, err)
		return
	}

	log.Info().Str("userid", userID).Str("state", state.String()).Msg("API: account state changed")
	c.JSON(http.StatusOK, gin.H{"userid": userID, "state": state.String()})
}

type banRequest struct {
	Until   time.Time `json:"until"`
	Minutes int       `json:"minutes"`
}

// handleBanAccount prohibits login until the given time, or for the
// given number of minutes. A zero result lifts the ban.
func (s *Server) handleBanAccount(c *gin.Context) {
	if s.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account database is not enabled"})
		return
	}

	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Minutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must not be negative"})
		return
	}

	until := req.Until
	if req.Minutes > 0 {
		until = time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	}

	userID := c.Param("userid")
	if err := s.Accounts.SetBan(c.Request.Context(), userID, until); err != nil {
		s.accountError(c, userID, err)
		return
	}

	resp := gin.H{"userid": userID, "banned_until": nil}
	if !until.IsZero() {
		resp["banned_until"] = until.Format(account.BanDateLayout)
	}
	log.Info().Str("userid", userID).Time("until", until).Msg("API: account ban changed")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) accountError(c *gin.Context, userID string, err error) {
	if errors.Is(err, account.ErrUnknownAccount) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found", "userid": userID})
		return
	}
	log.Error().Err(err).Str("userid", userID).Msg("API: account update failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "account update failed"})
}
