package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/cli"
	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/db"
	"github.com/urd-project/urd/internal/protocol"
)

// openDatabase opens the database named by the configuration without
// touching the logger setup of serve.
func openDatabase() (*db.Database, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is not set in %s", cfg.Path())
	}
	return db.NewDatabase(cfg.Database.Path)
}

// withAccounts runs fn against the account database.
func withAccounts(fn func(ctx context.Context, accounts *db.AccountsDatabase) error) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(context.Background(), db.NewAccountsDatabase(database))
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts [command]",
		Short: "Manage the account database",
		Long: `Manage the accounts used when accounts.mode is "database".

Examples:
  urd accounts add alice s3cret --level 1 --sex F
  urd accounts list
  urd accounts block alice
  urd accounts ban alice --minutes 60
  urd accounts passwd alice n3w`,
	}

	cmd.AddCommand(
		accountsAddCmd(),
		accountsListCmd(),
		accountsDeleteCmd(),
		accountsStateCmd("block", "Block an account", account.StateBlocked),
		accountsStateCmd("unblock", "Unblock an account", account.StateActive),
		accountsBanCmd(),
		accountsPasswdCmd(),
	)

	return cmd
}

func accountsAddCmd() *cobra.Command {
	var (
		level   uint32
		sex     string
		expires int
	)

	cmd := &cobra.Command{
		Use:   "add <userid> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			na := db.NewAccount{
				UserID:   args[0],
				Password: args[1],
				Level:    level,
				Sex:      protocol.ParseSex(sex),
			}
			if expires > 0 {
				na.ExpiresAt = time.Now().AddDate(0, 0, expires)
			}

			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				acc, err := accounts.Create(ctx, na)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created account %s with id %d\n", acc.UserID, acc.ID)
				return nil
			})
		},
	}

	cmd.Flags().Uint32Var(&level, "level", 0, "User level sent with LoginAccepted")
	cmd.Flags().StringVar(&sex, "sex", "M", "Sex, M or F")
	cmd.Flags().IntVar(&expires, "expires-days", 0, "Expire the account after this many days (0 never)")

	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				list, err := accounts.List(ctx)
				if err != nil {
					return err
				}
				cli.PrintAccounts(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
}

func accountsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <userid>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				if err := accounts.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted account %s\n", args[0])
				return nil
			})
		},
	}
}

func accountsStateCmd(use, short string, state account.State) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <userid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				if err := accounts.SetState(ctx, args[0], state); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s is %s\n", args[0], state)
				return nil
			})
		},
	}
}

func accountsBanCmd() *cobra.Command {
	var minutes int

	cmd := &cobra.Command{
		Use:   "ban <userid>",
		Short: "Prohibit login for a while (--minutes 0 lifts the ban)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes < 0 {
				return fmt.Errorf("--minutes must not be negative")
			}
			var until time.Time
			if minutes > 0 {
				until = time.Now().Add(time.Duration(minutes) * time.Minute)
			}

			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				if err := accounts.SetBan(ctx, args[0], until); err != nil {
					return err
				}
				if until.IsZero() {
					fmt.Fprintf(cmd.OutOrStdout(), "ban lifted for %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s banned until %s\n", args[0], until.Format(account.BanDateLayout))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&minutes, "minutes", 60, "Ban duration in minutes")

	return cmd
}

func accountsPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <userid> <password>",
		Short: "Change an account password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, accounts *db.AccountsDatabase) error {
				if err := accounts.SetPassword(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password changed for %s\n", args[0])
				return nil
			})
		},
	}
}
