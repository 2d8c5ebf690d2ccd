package cmd

import (
	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagListen  string
	flagOrigins []string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay for meshcall rooms",
	Long: `Run the websocket signaling relay. It only forwards room membership and
negotiation messages; media flows directly between participants.

Examples:
  meshcall relay
  meshcall relay --listen :9000 --allowed-origin https://call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := configOptions()
		opts.ListenAddr = flagListen
		opts.AllowedOrigins = flagOrigins
		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}

		ui.PrintInfof("Relay listening on %s", ui.BoldStyle.Render(cfg.RelayListenAddr))
		return relay.Serve(cmd.Context(), cfg.RelayListenAddr, cfg.RelayResumeWindow, cfg.RelayAllowedOrigins)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address")
	relayCmd.Flags().StringSliceVar(&flagOrigins, "allowed-origin", nil, "Allowed websocket origins, repeatable")
}
