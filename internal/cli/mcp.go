package cli

import (
	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/mcpserver"
)

func (a *app) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the codec tools over MCP stdio",
		Long: "Tools: choom_translate, choom_validate, choom_lint, choom_fmt, choom_explain,\n" +
			"choom_schema, choom_guard and choom_contract. Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s := mcpserver.New(buildVersion, a.logger.With().Str("component", "mcp").Logger())
			return mcpserver.Serve(c.Context(), s, a.stdin, a.stdout)
		},
	}
}
