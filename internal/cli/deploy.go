package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/config"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	NoAutoDeploy bool
}

// DeployedBot is one bot brought to READY.
type DeployedBot struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <bot>...",
		Short: "Deploy bots and wait until they are ready",
		Long: `Deploy one or more bots concurrently and poll each until it reports
READY. A bot is given as <id>, <id>:<version> or a bot location such as
eddi://ai.labs.bot/botstore/bots/<id>?version=<n>. The version defaults to 1.

The first deployment to fail or time out cancels the others.

Examples:
  eddi-conform deploy 5b0d2a1ee4b0e4a1c2f0a7d1
  eddi-conform deploy 5b0d2a1ee4b0e4a1c2f0a7d1:3 5b0d2a1ee4b0e4a1c2f0a7d2`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoAutoDeploy, "no-auto-deploy", false, "send autoDeploy=false with the deploy request")

	return cmd
}

func runDeploy(opts *DeployOptions, refs []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ids := make([]resource.ID, 0, len(refs))
	for _, ref := range refs {
		id, err := parseBotRef(ref)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDeploy, "invalid bot reference", err)
		}
		ids = append(ids, id)
	}

	cfg, c, err := opts.connect(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "cannot configure client", err)
	}

	poller := deploy.NewPoller(c, append(cfg.DeployOptions(),
		deploy.WithAutoDeploy(!opts.NoAutoDeploy),
		deploy.WithLogger(c.Logger()),
	)...)
	if err := poller.DeployAll(cmd.Context(), ids...); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDeploy, "deployment failed", err)
	}

	bots := make([]DeployedBot, len(ids))
	for i, id := range ids {
		bots[i] = DeployedBot{ID: id.ID, Version: id.Version, Status: string(deploy.StatusReady)}
	}
	if formatter.JSON() {
		return formatter.Success(bots)
	}

	rows := make([]table.Row, len(bots))
	for i, b := range bots {
		rows[i] = table.Row{b.ID, b.Version, b.Status}
	}
	formatter.Table(table.Row{"Bot", "Version", "Status"}, rows)
	return nil
}

// connect loads the configuration and builds a client for it.
func (o *RootOptions) connect(cmd *cobra.Command) (*config.Config, *client.Client, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(cfg.ClientConfig(o.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

// parseBotRef reads "<id>", "<id>:<version>" or a bot location.
func parseBotRef(ref string) (resource.ID, error) {
	if strings.Contains(ref, "/") {
		id, err := resource.ParseLocation(ref)
		if err != nil {
			return resource.ID{}, err
		}
		if id.Version == resource.NoVersion {
			id.Version = 1
		}
		return id, nil
	}

	raw, version, hasVersion := strings.Cut(ref, ":")
	if raw == "" {
		return resource.ID{}, fmt.Errorf("bot reference %q has no id", ref)
	}
	id := resource.ID{ID: raw, Version: 1}
	if hasVersion {
		n, err := strconv.Atoi(version)
		if err != nil || n < 1 {
			return resource.ID{}, fmt.Errorf("bot reference %q: version must be a positive integer", ref)
		}
		id.Version = n
	}
	return id, nil
}
