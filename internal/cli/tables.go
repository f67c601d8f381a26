// Package cli renders the tables printed by the urd command.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// PrintAccounts writes accounts as a table.
func PrintAccounts(w io.Writer, accounts []account.Account) {
	tw := newTable(w, []string{"ID", "User ID", "Level", "Sex", "State", "Expires", "Banned Until", "Logins", "Last Login", "Last IP"})
	for _, acc := range accounts {
		lastIP := acc.LastIP
		if lastIP == "" {
			lastIP = "-"
		}
		tw.Append([]string{
			fmt.Sprintf("%d", acc.ID),
			acc.UserID,
			fmt.Sprintf("%d", acc.Level),
			acc.Sex.Char(),
			acc.State.String(),
			formatTime(acc.ExpiresAt),
			formatTime(acc.BannedUntil),
			fmt.Sprintf("%d", acc.LoginCount),
			formatTime(acc.LastLogin),
			lastIP,
		})
	}
	tw.Render()
}

// PrintSessions writes active sessions as a table. now is used for the
// session age.
func PrintSessions(w io.Writer, sessions []session.Session, now time.Time) {
	tw := newTable(w, []string{"Session", "User ID", "Account", "Remote", "Login At", "Age"})
	for _, s := range sessions {
		tw.Append([]string{
			fmt.Sprintf("%d", s.ID),
			s.UserID,
			fmt.Sprintf("%d", s.AccountID),
			s.Remote,
			formatTime(s.LoginAt),
			now.Sub(s.LoginAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

// PrintLoginLog writes login log entries as a table.
func PrintLoginLog(w io.Writer, entries []db.LoginLogEntry) {
	tw := newTable(w, []string{"Time", "User ID", "Account", "Remote", "Result", "Reason"})
	for _, e := range entries {
		accountID := "-"
		if e.AccountID != 0 {
			accountID = fmt.Sprintf("%d", e.AccountID)
		}
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		tw.Append([]string{formatTime(e.Time), e.UserID, accountID, e.Remote, e.Result, reason})
	}
	tw.Render()
}
