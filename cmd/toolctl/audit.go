package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/statecore/internal/config"
	"github.com/garyjia/statecore/internal/container"
)

type auditOptions struct {
	stats bool
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit ENTITY_TYPE [ENTITY_ID]",
		Short: "Print the audit trail of an entity, or transition counts of a type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, root, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print transition counts instead of records")
	return cmd
}

func runAudit(cmd *cobra.Command, root *rootOptions, opts *auditOptions, args []string) error {
	cfg, err := config.Load(root.serviceConfig)
	if err != nil {
		return err
	}
	// Read-only: events are never published from here
	cfg.Events.Publisher = config.PublisherDispatcher

	logger := root.logger()
	defer logger.Sync()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(cmd.Context()); err != nil {
		return err
	}
	defer c.Close()

	audit := c.Services().Audit
	var data any
	switch {
	case opts.stats:
		data, err = audit.GetTransitionStats(cmd.Context(), args[0])
	case len(args) == 2:
		data, err = audit.GetAuditTrail(cmd.Context(), args[0], args[1])
	default:
		return fmt.Errorf("entity id is required unless --stats is set")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
