package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sertao-labs/sentinela/pkg/ibge"
)

var localitiesCmd = &cobra.Command{
	Use:   "localities",
	Short: "Browse IBGE states and municipalities",
}

var localitiesStatesCmd = &cobra.Command{
	Use:   "states",
	Short: "List federative units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		states, err := initLocalities().States(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "list states")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUF\tNAME\tREGION")
		for _, s := range states {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Sigla, s.Name, s.Region.Name)
		}
		return w.Flush()
	},
}

var localitiesMunFlags struct {
	state string
	match string
}

var localitiesMunicipalitiesCmd = &cobra.Command{
	Use:   "municipalities",
	Short: "List a state's municipalities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if localitiesMunFlags.state == "" {
			return eris.New("--state is required")
		}

		client := initLocalities()
		states, err := client.States(ctx)
		if err != nil {
			return eris.Wrap(err, "list states")
		}

		uf := strings.ToUpper(localitiesMunFlags.state)
		var stateID int
		for _, s := range states {
			if s.Sigla == uf {
				stateID = s.ID
				break
			}
		}
		if stateID == 0 {
			return eris.Errorf("unknown state %q", localitiesMunFlags.state)
		}

		municipalities, err := client.Municipalities(ctx, stateID)
		if err != nil {
			return eris.Wrapf(err, "list municipalities of %s", uf)
		}
		if localitiesMunFlags.match != "" {
			municipalities = ibge.MatchMunicipalities(municipalities, localitiesMunFlags.match)
		}
		if len(municipalities) == 0 {
			fmt.Fprintln(os.Stderr, "No municipalities matched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME")
		for _, m := range municipalities {
			fmt.Fprintf(w, "%d\t%s\n", m.ID, m.Name)
		}
		return w.Flush()
	},
}

func init() {
	localitiesMunicipalitiesCmd.Flags().StringVar(&localitiesMunFlags.state, "state", "", "state UF sigla, e.g. PE")
	localitiesMunicipalitiesCmd.Flags().StringVar(&localitiesMunFlags.match, "match", "", "accent-insensitive name filter")
	localitiesCmd.AddCommand(localitiesStatesCmd)
	localitiesCmd.AddCommand(localitiesMunicipalitiesCmd)
	rootCmd.AddCommand(localitiesCmd)
}
