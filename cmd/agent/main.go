// agent replays canned endpoint telemetry against a running gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"aura-gateway/internal/agent"
	"aura-gateway/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		gatewayURL string
		username   string
		password   string
		endpointID string
		interval   time.Duration
		timeout    time.Duration
		once       bool
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVar(&gatewayURL, "gateway-url", util.GetEnv("AGENT_GATEWAY_URL", "http://localhost:8080/api/v1/agent/telemetry"), "telemetry intake URL")
	flagSet.StringVarP(&username, "username", "u", util.GetEnv("AGENT_USERNAME", "agent"), "agent username")
	flagSet.StringVarP(&password, "password", "p", util.GetEnv("AGENT_PASSWORD", ""), "agent password")
	flagSet.StringVar(&endpointID, "endpoint-id", "", "pin every scenario to this endpoint id")
	flagSet.DurationVar(&interval, "interval", 10*time.Second, "delay between simulation rounds")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	flagSet.BoolVar(&once, "once", false, "send one round of scenarios and exit")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := util.Init("development", logLevel, "console")
	defer util.Sync()

	client, err := agent.NewClient(gatewayURL, username, password, timeout, logger)
	if err != nil {
		return err
	}
	sim := agent.NewSimulator(client, agent.DefaultScenarios(), interval, logger).WithEndpoint(endpointID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		return sim.RunOnce(ctx)
	}

	util.Info("Agent simulator started",
		util.String("gateway_url", gatewayURL),
		util.Duration("interval", interval),
	)
	err = sim.Run(ctx)
	sent, failed := sim.Counts()
	util.Info("Agent simulator stopped",
		util.Int64("sent", int64(sent)),
		util.Int64("failed", int64(failed)),
	)
	return err
}
