// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"

	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/engine"
	"github.com/Azure/DCS-IdentitySync/internal/fault"
	"github.com/Azure/DCS-IdentitySync/internal/hostsfile"
	"github.com/Azure/DCS-IdentitySync/internal/keystone"
	"github.com/Azure/DCS-IdentitySync/internal/tracing"
	"github.com/Azure/DCS-IdentitySync/internal/version"
)

const (
	// staleWorkBound is how long a request may sit in-progress before
	// the scheduler treats it as orphaned by a crash and requeues it. A
	// request is in-progress only for the duration of one handler
	// execution, so this is crash detection, not contention handling.
	staleWorkBound = 10 * time.Minute

	// terminalJobAge is how long finished jobs are kept for inspection
	// before the scheduler purges them.
	terminalJobAge = 24 * time.Hour
)

var (
	argDatabaseURL            string
	argMasterIP               string
	argOSUsername             string
	argOSPassword             string
	argOSProjectName          string
	argOSUserDomainName       string
	argOSProjectDomainName    string
	argHostsFile              string
	argDnsmasqPidfile         string
	argConfigPath             string
	argFernetRepoPath         string
	argFernetRotateCommand    []string
	argFernetRotationInterval time.Duration
	argAuditInterval          time.Duration
	argMetricsListenAddress   string
	argHealthzListenAddress   string

	processName = filepath.Base(os.Args[0])

	rootCmd = &cobra.Command{
		Use:   processName,
		Args:  cobra.NoArgs,
		Short: "DCS Identity Sync Engine",
		Long: fmt.Sprintf(`DCS Identity Sync Engine

	The command runs the system controller's identity synchronization engine.
	It replicates identity records to every managed subcloud and rotates and
	distributes the fernet key repository.

	# Run against a local orchestration database
	%s --database-url ${DCS_DATABASE_URL} --master-ip ${DCS_MASTER_IP} \
		--os-username admin --os-password ${OS_PASSWORD}
`, processName),
		Version:       version.CommitSHA,
		RunE:          Run,
		SilenceErrors: true, // errors are printed after Execute
	}
)

func init() {
	rootCmd.SetErrPrefix(rootCmd.Short + " error:")

	rootCmd.Flags().StringVar(&argDatabaseURL, "database-url", os.Getenv("DCS_DATABASE_URL"), "Orchestration database DSN")
	rootCmd.Flags().StringVar(&argMasterIP, "master-ip", os.Getenv("DCS_MASTER_IP"), "System controller management address")
	rootCmd.Flags().StringVar(&argOSUsername, "os-username", os.Getenv("OS_USERNAME"), "Administrative identity user, valid on every cloud")
	rootCmd.Flags().StringVar(&argOSPassword, "os-password", os.Getenv("OS_PASSWORD"), "Administrative identity password")
	rootCmd.Flags().StringVar(&argOSProjectName, "os-project-name", envOr("OS_PROJECT_NAME", "admin"), "Administrative project name")
	rootCmd.Flags().StringVar(&argOSUserDomainName, "os-user-domain-name", envOr("OS_USER_DOMAIN_NAME", "Default"), "Administrative user domain")
	rootCmd.Flags().StringVar(&argOSProjectDomainName, "os-project-domain-name", envOr("OS_PROJECT_DOMAIN_NAME", "Default"), "Administrative project domain")
	rootCmd.Flags().StringVar(&argHostsFile, "hosts-file", os.Getenv("DCS_HOSTS_FILE"), "Management hosts file maintained from the subcloud registry; empty disables")
	rootCmd.Flags().StringVar(&argDnsmasqPidfile, "dnsmasq-pidfile", os.Getenv("DCS_DNSMASQ_PIDFILE"), "Pidfile of the dnsmasq to SIGHUP after hosts file changes; empty disables")
	rootCmd.Flags().StringVar(&argConfigPath, "config", "", "Path to a YAML file with audit exclusions and interval overrides")
	rootCmd.Flags().StringVar(&argFernetRepoPath, "fernet-repo-path", "/etc/keystone/fernet-keys", "Master fernet key repository directory")
	rootCmd.Flags().StringSliceVar(&argFernetRotateCommand, "fernet-rotate-command",
		[]string{"keystone-manage", "fernet_rotate", "--keystone-user", "keystone", "--keystone-group", "keystone"},
		"Local command performing the key rotation")
	rootCmd.Flags().DurationVar(&argFernetRotationInterval, "fernet-rotation-interval", 7*24*time.Hour, "How often the fernet keys are rotated")
	rootCmd.Flags().DurationVar(&argAuditInterval, "audit-interval", 5*time.Minute, "How often every subcloud is audited against the master")
	rootCmd.Flags().StringVar(&argMetricsListenAddress, "metrics-listen-address", ":8081", "Address on which to expose metrics")
	rootCmd.Flags().StringVar(&argHealthzListenAddress, "healthz-listen-address", ":8083", "Address on which Healthz endpoint will be supported")

	rootCmd.MarkFlagsRequiredTogether("os-username", "os-password")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// fileConfig is the optional YAML config file: operator-supplied audit
// exclusions and interval overrides. Durations are Go duration strings.
type fileConfig struct {
	AuditInterval          string   `json:"audit_interval"`
	FernetRotationInterval string   `json:"fernet_rotation_interval"`
	ExcludedUsers          []string `json:"excluded_users"`
	ExcludedProjects       []string `json:"excluded_projects"`
	ExcludedRoles          []string `json:"excluded_roles"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var config fileConfig
	if len(path) == 0 {
		return config, nil
	}

	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(rawBytes, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling file %s: %w", path, err)
	}

	if config.AuditInterval != "" {
		if argAuditInterval, err = time.ParseDuration(config.AuditInterval); err != nil {
			return config, fmt.Errorf("audit_interval in %s: %w", path, err)
		}
	}
	if config.FernetRotationInterval != "" {
		if argFernetRotationInterval, err = time.ParseDuration(config.FernetRotationInterval); err != nil {
			return config, fmt.Errorf("fernet_rotation_interval in %s: %w", path, err)
		}
	}
	return config, nil
}

func Run(cmd *cobra.Command, args []string) error {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	})
	logger := slog.New(handler)

	if len(argDatabaseURL) == 0 {
		return errors.New("database-url is required")
	}
	if len(argMasterIP) == 0 {
		return errors.New("master-ip is required")
	}
	if len(argOSUsername) == 0 {
		return errors.New("os-username is required")
	}

	logger.Info(fmt.Sprintf("%s (%s) started", cmd.Short, version.CommitSHA))

	fileCfg, err := loadFileConfig(argConfigPath)
	if err != nil {
		return err
	}

	// Initialize the global OpenTelemetry tracer.
	ctx := context.Background()
	otelShutdown, err := tracing.ConfigureOpenTelemetryTracer(
		ctx,
		logger,
		semconv.ServiceNameKey.String("DCS Identity Sync Engine"),
		semconv.ServiceVersionKey.String(version.CommitSHA),
	)
	if err != nil {
		return fmt.Errorf("could not initialize opentelemetry sdk: %w", err)
	}

	rawStore, err := database.NewPostgresStore(ctx, argDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the orchestration database: %w", err)
	}
	if err := rawStore.MigrateUp(ctx); err != nil {
		return fmt.Errorf("failed to migrate the orchestration database: %w", err)
	}
	store, err := database.NewStoreWithInstrumentation(rawStore, "dcs-identitysync/database")
	if err != nil {
		return err
	}

	factory := engine.NewClientFactory(engine.FactoryConfig{
		MasterIP: argMasterIP,
		Credentials: keystone.Config{
			Username:          argOSUsername,
			Password:          argOSPassword,
			ProjectName:       argOSProjectName,
			UserDomainName:    argOSUserDomainName,
			ProjectDomainName: argOSProjectDomainName,
		},
	})

	var signaler hostsfile.Signaler
	if argDnsmasqPidfile != "" {
		signaler = hostsfile.DnsmasqSignaler{PidfilePath: argDnsmasqPidfile}
	}

	syncManager := engine.NewGenericSyncManager(logger, store, fault.NewManager(logger), factory, argHostsFile, signaler)
	syncManager.SetAuditExclusions(fileCfg.ExcludedUsers, fileCfg.ExcludedProjects, fileCfg.ExcludedRoles)

	keyManager := engine.NewFernetKeyManager(logger, store, engine.FernetConfig{
		RotationInterval: argFernetRotationInterval,
		RepoPath:         argFernetRepoPath,
		RotateCommand:    argFernetRotateCommand,
	}, syncManager.SyncRequest)
	syncManager.SetKeyDistributor(keyManager)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncManager.InitFromDB(ctx); err != nil {
		return fmt.Errorf("failed to resume subclouds from the registry: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Handle requests directly for /healthz endpoint
	var healthzServer *http.Server
	if argHealthzListenAddress != "" {
		http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := store.ConnectionTest(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		healthzServer = &http.Server{Addr: argHealthzListenAddress}

		group.Go(func() error {
			logger.Info(fmt.Sprintf("Healthz server listening on %s", argHealthzListenAddress))
			err := healthzServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	var metricsServer *http.Server
	if argMetricsListenAddress != "" {
		http.Handle("/metrics", promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer,
			promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{},
			),
		))

		metricsServer = &http.Server{Addr: argMetricsListenAddress}

		group.Go(func() error {
			logger.Info(fmt.Sprintf("metrics server listening on %s", argMetricsListenAddress))
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	go func() {
		<-ctx.Done()
		logger.Info("Caught interrupt signal")
		if healthzServer != nil {
			_ = healthzServer.Close()
		}
		if metricsServer != nil {
			_ = metricsServer.Close()
		}
	}()

	group.Go(func() error {
		keyManager.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		return runAuditScheduler(groupCtx, logger, store, syncManager)
	})

	if err := group.Wait(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	syncManager.Shutdown()
	_ = otelShutdown(ctx)
	logger.Info(fmt.Sprintf("%s (%s) stopped", cmd.Short, cmd.Version))

	return nil
}

// runAuditScheduler drives the periodic maintenance cycle: requeue
// work orphaned by a crash, audit every enabled subcloud, purge
// long-finished jobs. A failed cycle is logged and retried on the next
// tick.
func runAuditScheduler(ctx context.Context, logger *slog.Logger, store database.Store, syncManager *engine.GenericSyncManager) error {
	ticker := time.NewTicker(argAuditInterval)
	defer ticker.Stop()

	logger.Info("audit scheduler started", "interval", argAuditInterval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if requeued, err := store.RequeueStaleWork(ctx, time.Now().Add(-staleWorkBound)); err != nil {
			logger.Error("requeuing stale work", "error", err.Error())
		} else if requeued > 0 {
			logger.Info("requeued stale in-progress work", "requests", requeued)
		}

		if err := syncManager.RunSyncAudit(ctx); err != nil {
			logger.Error("sync audit cycle", "error", err.Error())
		}

		if _, err := store.PurgeTerminalJobs(ctx, time.Now().Add(-terminalJobAge)); err != nil {
			logger.Error("purging finished jobs", "error", err.Error())
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln(rootCmd.ErrPrefix(), err.Error())
		os.Exit(1)
	}
}
