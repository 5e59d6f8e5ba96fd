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
	"fulfillment-controlplane/pkg/evidence"
	"fulfillment-controlplane/pkg/featureflags"
	"fulfillment-controlplane/pkg/hashistack/secretmanager"
	"fulfillment-controlplane/pkg/hashistack/servicediscover"
	"fulfillment-controlplane/pkg/health"
	"fulfillment-controlplane/pkg/httpapi"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/pkg/minio"
	"fulfillment-controlplane/pkg/otelcol"
	"fulfillment-controlplane/pkg/profiling"
	"fulfillment-controlplane/pkg/redis"
	"fulfillment-controlplane/pkg/server"
	"fulfillment-controlplane/pkg/task"
	"fulfillment-controlplane/services/bootstrap"
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
		minio.Client,
		evidence.Module,
		featureflags.Module,
		client.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideWalletProvider,
			provideTenantProvider,
		),
		bootstrap.Module,
		httpapi.Module,
		opportunity.Module,
		opportunity.Gateway,
		verification.Module,
		verification.Gateway,
		provisioning.Module,
		fulfillment.Stores,
		fulfillment.Dispatch,
		fulfillment.Gateway,
		ledger.Module,
		ledger.Gateway,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
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
