package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/thumbforge/internal/roles"
)

func newRolesCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List the canonical asset roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := roles.Default()
			list := registry.All()
			if category != "" {
				list = registry.ByCategory(roles.Category(strings.ToUpper(category)))
				if len(list) == 0 {
					return fmt.Errorf("no roles in category %q", category)
				}
			}

			rows := make([][]string, 0, len(list))
			for _, r := range list {
				rows = append(rows, []string{
					r.Key,
					string(r.Category),
					r.Label,
					fmt.Sprintf("%dx%d", r.DefaultSize.Width, r.DefaultSize.Height),
					yesNo(r.Required),
					yesNo(r.TextField),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Category", "Label", "Size", "Required", "Text"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list roles in this category (CHAR, UI, ASSET, BG, TEXT, WARDROBE)")
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
