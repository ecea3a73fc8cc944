package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/format"
	"github.com/ProhibitedTV/ChoomLang/internal/paths"
	"github.com/ProhibitedTV/ChoomLang/internal/profiles"
)

func (a *app) profileStore() *profiles.Store {
	dir := a.cfg.Runner.ProfilesDir
	if dir == "" {
		dir = paths.ProfilesDir()
	}
	return profiles.NewStore(dir)
}

func (a *app) warnInvalidProfiles(invalid []error) {
	for _, err := range invalid {
		fmt.Fprintf(a.stderr, "warn: %v\n", err)
	}
}

func (a *app) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "List, inspect and apply parameter profiles",
	}

	var tag string
	var long bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store := a.profileStore()
			if long {
				all, invalid, err := store.All()
				if err != nil {
					return err
				}
				a.warnInvalidProfiles(invalid)
				var shown []profiles.Profile
				for _, p := range all {
					if tag == "" || hasTag(p, tag) {
						shown = append(shown, p)
					}
				}
				fmt.Fprintln(a.stdout, format.ProfilesTable(shown, a.tableMode()))
				return nil
			}
			names, invalid, err := store.List(tag)
			if err != nil {
				return err
			}
			a.warnInvalidProfiles(invalid)
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
	list.Flags().StringVar(&tag, "tag", "", "Only profiles carrying this tag")
	list.Flags().BoolVarP(&long, "long", "l", false, "Show tags and descriptions as a table")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search profile names, descriptions and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			names, invalid, err := a.profileStore().Search(args[0])
			if err != nil {
				return err
			}
			a.warnInvalidProfiles(invalid)
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := a.profileStore().Read(args[0])
			if err != nil {
				return err
			}
			doc := map[string]any{"name": p.Name, "defaults": p.Defaults}
			if p.Description != "" {
				doc["description"] = p.Description
			}
			if len(p.Tags) > 0 {
				doc["tags"] = p.Tags
			}
			data, err := dsl.MarshalSorted(doc, "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(data))
			return nil
		},
	}

	var sets []string
	apply := &cobra.Command{
		Use:   "apply <name> <dsl>",
		Short: "Apply profile defaults to a DSL line",
		Long:  "Precedence is profile defaults < line params < --set overrides.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			overrides, err := profiles.ParseOverrides(sets)
			if err != nil {
				return err
			}
			line, err := a.profileStore().Apply(args[0], args[1], overrides)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, line)
			return nil
		},
	}
	apply.Flags().StringArrayVar(&sets, "set", nil, "Override a param (key=value, repeatable)")

	cmd.AddCommand(list, search, show, apply)
	return cmd
}

func hasTag(p profiles.Profile, tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
