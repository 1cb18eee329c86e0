// Command fact runs the host/VM telemetry agent: it collects file-open
// activity and installed-package inventory and reports them to the
// sensor, directly or relayed over a host-guest vsock transport.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/kylape/fact/pkg/fact/agent"
	"github.com/kylape/fact/pkg/fact/config"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "fact",
		Short: "Collects host file-access and package inventory telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), v)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			if err := log.Setup(cfg.LogLevel); err != nil {
				return fmt.Errorf("setting up logging: %w", err)
			}
			defer log.Sync()

			go serveTelemetry()

			return agent.Run(context.Background(), cfg)
		},
	}

	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		fmt.Fprintln(os.Stderr, "binding flags:", err)
		os.Exit(1)
	}

	return cmd
}

// serveTelemetry exposes the prometheus registry on 127.0.0.1:9091/metrics for the
// lifetime of the process. It logs and returns rather than crashing the
// agent if the port is already taken.
func serveTelemetry() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe("127.0.0.1:9091", mux); err != nil {
		log.L().Warnw("telemetry endpoint stopped", "error", err)
	}
}
