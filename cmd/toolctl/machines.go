package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/statecore/internal/application/workflow"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
)

func newMachinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "Inspect state machines",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the built-in machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range workflow.BuiltinMachines() {
				printMachine(cmd, m)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a machine definitions file against the built-in catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machines, err := domainwf.LoadDefinitionsFile(args[0])
			if err != nil {
				return err
			}
			if _, err := workflow.NewCatalog(machines...); err != nil {
				return err
			}
			for _, m := range machines {
				printMachine(cmd, m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d machine(s) valid\n", len(machines))
			return nil
		},
	})

	return cmd
}

func printMachine(cmd *cobra.Command, m *domainwf.Machine) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (initial: %s)\n", m.Name(), m.Initial())
	for _, t := range m.Transitions() {
		actors := "any"
		if len(t.AllowedActors) > 0 {
			actors = strings.Join(t.AllowedActors, ",")
		}
		fmt.Fprintf(out, "  %s --%s--> %s [%s]\n", t.From, t.Event, t.To, actors)
	}
}
