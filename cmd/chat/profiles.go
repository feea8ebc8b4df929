package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect the profile catalog",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the profiles the assistant can fetch",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := openCatalog(cfg, newLogger())
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
		defer catalog.Close()

		list := catalog.List()
		if len(list) == 0 {
			fmt.Println("No profiles available.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSOURCE\tURL")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Source, p.URL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		color.New(color.Faint).Printf("%d profiles\n", len(list))
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
}
