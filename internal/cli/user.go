package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unrcom/llamune-chat/internal/config"
	"github.com/unrcom/llamune-chat/internal/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts directly against the local store",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user and print its access token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			u, err := st.CreateUser(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (%s)\nToken: %s\n", u.Name, u.ID, u.Token)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			users, err := st.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s  %s\n", u.ID, u.Name)
			}
			return nil
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a user and everything it owns",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			return st.DeleteUser(args[0])
		})
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRemoveCmd)
}

func withStore(fn func(*store.Store) error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	st, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := fn(st); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
