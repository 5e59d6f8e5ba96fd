package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"fulfillment-controlplane/pkg/client"
	"fulfillment-controlplane/pkg/config"
	"fulfillment-controlplane/pkg/db"
	"fulfillment-controlplane/pkg/featureflags"
	"fulfillment-controlplane/pkg/hashistack/secretmanager"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/pkg/otelcol"
	"fulfillment-controlplane/pkg/profiling"
	"fulfillment-controlplane/pkg/redis"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/fulfillment"
	"fulfillment-controlplane/services/ledger"
	"fulfillment-controlplane/services/opportunity"
	"fulfillment-controlplane/services/provisioning"
	"fulfillment-controlplane/services/verification"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		featureflags.Module,
		client.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideWalletProvider,
			provideTenantProvider,
			provideWalletCreditor,
			provideCredentialIssuer,
			provideLocker,
		),
		opportunity.Module,
		verification.Module,
		provisioning.Module,
		provisioning.Worker,
		fulfillment.Stores,
		fulfillment.Dispatch,
		fulfillment.Worker,
		ledger.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func provideWalletProvider(c *client.WalletClient) provisioning.WalletProvider {
	return c
}

func provideTenantProvider(c *client.TrustRegistryClient) provisioning.TenantProvider {
	return c
}

func provideWalletCreditor(c *client.WalletClient) fulfillment.WalletCreditor {
	return c
}

func provideCredentialIssuer(c *client.TrustRegistryClient) fulfillment.CredentialIssuer {
	return c
}

// the scanner runs on every worker; the lock keeps a single leader per tick
func provideLocker(l *redis.Locker) fulfillment.Locker {
	return l
}
