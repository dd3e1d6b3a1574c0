package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/logmesh/logmesh/internal/registry"
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage the user → directory alias registry",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <user> <name> <path>",
	Short: "Register or replace an alias",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.Put(args[0], args[1], args[2])
	},
}

var aliasRemoveCmd = &cobra.Command{
	Use:   "remove <user> <name>",
	Short: "Delete an alias",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.Remove(args[0], args[1])
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list [user]",
	Short: "List registered aliases",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		users := store.Users()
		if len(args) == 1 {
			users = args[:1]
		}
		for _, u := range users {
			for _, a := range store.AliasesForUser(u) {
				fmt.Printf("%s\t%s\t%s\t(accessed %d times)\n",
					a.UserID, a.AliasName, a.BasePath, a.AccessCount)
			}
		}
		return nil
	},
}

func init() {
	aliasCmd.AddCommand(aliasAddCmd, aliasRemoveCmd, aliasListCmd)
	rootCmd.AddCommand(aliasCmd)
}

func openStore() (*registry.Store, error) {
	return registry.Open(viper.GetString("registry.path"))
}
