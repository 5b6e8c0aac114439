package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
	"github.com/haukened/rr-pulse/internal/pulse/repos/whitelist/bolt"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Edit the persisted whitelist while the daemon is stopped",
}

var whitelistListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List whitelisted domains",
	Args:    cobra.NoArgs,
	RunE:    runWhitelistList,
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <domain1,domain2...>",
	Short: "Whitelist domains",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistRemoveCmd = &cobra.Command{
	Use:     "rm <domain1,domain2...>",
	Aliases: []string{"remove"},
	Short:   "Remove domains from the whitelist",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runWhitelistRemove,
}

func init() {
	whitelistCmd.AddCommand(whitelistListCmd)
	whitelistCmd.AddCommand(whitelistAddCmd)
	whitelistCmd.AddCommand(whitelistRemoveCmd)
	rootCmd.AddCommand(whitelistCmd)
}

// openWhitelist opens the bbolt store named by the configuration.
func openWhitelist(path string) (*bolt.Store, error) {
	db, err := bolt.New(path, nil)
	if errors.Is(err, bberrors.ErrTimeout) {
		return nil, ErrWhitelistBusy
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrWhitelistDB, path, err)
	}
	return db, nil
}

func readWhitelist(path string) ([]string, error) {
	db, err := openWhitelist(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Load()
}

// parseDomains splits comma-separated arguments into canonical hosts, dropping duplicates.
func parseDomains(parts []string) ([]string, error) {
	hosts := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, part := range parts {
		for _, token := range strings.Split(part, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			host := utils.HostFromInput(token)
			if host == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, token)
			}
			if _, ok := seen[host]; ok {
				continue
			}
			hosts = append(hosts, host)
			seen[host] = struct{}{}
		}
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: expected one or more domains (comma-separated)", ErrInvalidDomain)
	}
	return hosts, nil
}

func runWhitelistList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	domains, err := readWhitelist(cfg.Whitelist.DB)
	if err != nil {
		return err
	}
	for _, d := range domains {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	return editWhitelist(cmd, args, true)
}

func runWhitelistRemove(cmd *cobra.Command, args []string) error {
	return editWhitelist(cmd, args, false)
}

func editWhitelist(cmd *cobra.Command, args []string, add bool) error {
	hosts, err := parseDomains(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openWhitelist(cfg.Whitelist.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	current, err := db.Load()
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(current)+len(hosts))
	for _, d := range current {
		set[d] = struct{}{}
	}

	var changed []string
	for _, h := range hosts {
		_, present := set[h]
		switch {
		case add && !present:
			set[h] = struct{}{}
			changed = append(changed, h)
		case !add && present:
			delete(set, h)
			changed = append(changed, h)
		}
	}

	out := cmd.OutOrStdout()
	if len(changed) == 0 {
		fmt.Fprintln(out, "Whitelist unchanged")
		return nil
	}
	next := make([]string, 0, len(set))
	for d := range set {
		next = append(next, d)
	}
	if err := db.Save(next); err != nil {
		return err
	}

	verb := "Added"
	if !add {
		verb = "Removed"
	}
	fmt.Fprintf(out, "%s: %s\n", verb, strings.Join(changed, ","))
	return nil
}
