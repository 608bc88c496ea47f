package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/tabular/pkg/health"
	"github.com/nimburion/tabular/pkg/refresh"
	"github.com/nimburion/tabular/pkg/server"
	"github.com/nimburion/tabular/pkg/version"
)

func newRefreshCommand(g *globalFlags, load configLoader) *cobra.Command {
	var (
		once  bool
		names []string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-materialize the configured stored queries on their schedules",
		Long: `Runs every task under refresh.tasks on its schedule until interrupted, serving
/health, /ready, /metrics, /version and /refresh on the management port. With --once each
task runs a single time and the command exits with the combined errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, log, func(a *app) error {
				return runRefresh(cmd, g, a, once, names)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run each task once and exit")
	cmd.Flags().StringSliceVar(&names, "task", nil, "with --once, run only these tasks")
	cmd.Flags().Int("management-port", 0, "management server port")
	return cmd
}

func runRefresh(cmd *cobra.Command, g *globalFlags, a *app, once bool, names []string) error {
	locks := a.lockProvider()
	defer func() {
		if err := locks.Close(); err != nil {
			a.log.Error("failed to close refresh lock provider", "error", err)
		}
	}()

	var refreshMetrics *refresh.Metrics
	if a.metrics != nil {
		m, err := refresh.NewMetrics(a.metrics.Registerer())
		if err != nil {
			return fmt.Errorf("register refresh metrics: %w", err)
		}
		refreshMetrics = m
	}

	runtime, err := refresh.NewRuntime(a.engine, locks, a.log, refresh.ConfigFromSettings(a.cfg.Refresh, refreshMetrics))
	if err != nil {
		return fmt.Errorf("create refresh runtime: %w", err)
	}
	if err := runtime.RegisterAll(a.cfg.Refresh.Tasks); err != nil {
		return fmt.Errorf("register refresh tasks: %w", err)
	}

	if once {
		return refreshOnce(cmd, g, runtime, names)
	}

	registry := a.healthRegistry()
	registry.Register(refresh.NewLockProviderHealthChecker(locks, a.cfg.Redis.OperationTimeout))
	registry.Register(refresh.NewHealthChecker(runtime))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(ctx)

	if a.cfg.Management.Enabled {
		mgmt, err := server.NewManagementServer(a.cfg.Management, version.Current(a.cfg.Service.Name), a.log, registry, a.metrics)
		if err != nil {
			return fmt.Errorf("create management server: %w", err)
		}
		mgmt.AttachRefresh(runtime)
		group.Go(func() error { return mgmt.Start(groupCtx) })
	}
	group.Go(func() error { return runtime.Start(groupCtx) })
	return group.Wait()
}

func refreshOnce(cmd *cobra.Command, g *globalFlags, runtime *refresh.Runtime, names []string) error {
	if len(names) == 0 {
		names = runtime.Tasks()
	}

	var errs []error
	for _, name := range names {
		if err := runtime.RunNow(cmd.Context(), name); err != nil {
			errs = append(errs, fmt.Errorf("refresh task %s: %w", name, err))
		}
	}

	statuses := slices.DeleteFunc(runtime.Status(), func(s refresh.TaskStatus) bool {
		return !slices.Contains(names, s.Name)
	})
	if err := writeTaskStatus(cmd, g.output, statuses); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func writeTaskStatus(cmd *cobra.Command, format string, statuses []refresh.TaskStatus) error {
	if format != OutputText {
		return writeStructured(cmd.OutOrStdout(), format, statuses)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tDESTINATION\tRESULT\tLAST RUN")
	for _, s := range statuses {
		result := "ok"
		switch {
		case s.Failing() && s.Paused > 0:
			result = fmt.Sprintf("error: %s (paused %d)", s.LastError, s.Paused)
		case s.Failing():
			result = "error: " + s.LastError
		case s.Runs == 0 && s.Skipped > 0:
			result = "skipped (locked)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Destination, result, s.LastRun.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newHealthcheckCommand(g *globalFlags, load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, log, func(a *app) error {
				result := a.healthRegistry().Check(cmd.Context())
				if err := writeHealth(cmd, g.output, result); err != nil {
					return err
				}
				if result.Status == health.StatusUnhealthy {
					return errors.New("store is unhealthy")
				}
				return nil
			})
		},
	}
}

func writeHealth(cmd *cobra.Command, format string, result health.AggregatedResult) error {
	if format != OutputText {
		return writeStructured(cmd.OutOrStdout(), format, result)
	}
	out := cmd.OutOrStdout()
	for _, check := range result.Checks {
		line := fmt.Sprintf("%s: %s (%s)", check.Name, check.Status, check.Duration.Round(time.Microsecond))
		if check.Error != "" {
			line += " " + check.Error
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "overall: %s\n", result.Status)
	return nil
}
