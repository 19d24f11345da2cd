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
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/Azure/DCS-IdentitySync/internal/dbsyncapi"
	"github.com/Azure/DCS-IdentitySync/internal/keystonedb"
	"github.com/Azure/DCS-IdentitySync/internal/tracing"
	"github.com/Azure/DCS-IdentitySync/internal/version"
)

var (
	argListenAddress string
	argDatabaseURL   string

	processName = filepath.Base(os.Args[0])

	rootCmd = &cobra.Command{
		Use:   processName,
		Args:  cobra.NoArgs,
		Short: "DCS Identity Replication API",
		Long: fmt.Sprintf(`DCS Identity Replication API

	The command serves the replication protocol over this cloud's identity
	backend: consolidated users, projects, roles, role assignments and token
	revocation events, addressed by master-side identifiers. The sync engine
	on the system controller is its only client.

	# Run against a local identity database
	%s --database-url ${DCS_KEYSTONE_DATABASE_URL}
`, processName),
		Version:       version.CommitSHA,
		RunE:          Run,
		SilenceErrors: true, // errors are printed after Execute
	}
)

func init() {
	rootCmd.SetErrPrefix(rootCmd.Short + " error:")

	rootCmd.Flags().StringVar(&argListenAddress, "listen-address", ":8219", "Address the replication API listens on")
	rootCmd.Flags().StringVar(&argDatabaseURL, "database-url", os.Getenv("DCS_KEYSTONE_DATABASE_URL"), "Identity database DSN")
}

func Run(cmd *cobra.Command, args []string) error {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	})
	logger := slog.New(handler)

	if len(argDatabaseURL) == 0 {
		return errors.New("database-url is required")
	}

	logger.Info(fmt.Sprintf("%s (%s) started", cmd.Short, version.CommitSHA))

	// Initialize the global OpenTelemetry tracer.
	ctx := context.Background()
	otelShutdown, err := tracing.ConfigureOpenTelemetryTracer(
		ctx,
		logger,
		semconv.ServiceNameKey.String("DCS Identity Replication API"),
		semconv.ServiceVersionKey.String(version.CommitSHA),
	)
	if err != nil {
		return fmt.Errorf("could not initialize opentelemetry sdk: %w", err)
	}

	store, err := keystonedb.NewPostgresStore(ctx, argDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the identity database: %w", err)
	}

	listener, err := net.Listen("tcp", argListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", argListenAddress, err)
	}

	api := dbsyncapi.NewAPI(logger, listener, store)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.Run(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	_ = otelShutdown(ctx)
	logger.Info(fmt.Sprintf("%s (%s) stopped", cmd.Short, cmd.Version))

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln(rootCmd.ErrPrefix(), err.Error())
		os.Exit(1)
	}
}
