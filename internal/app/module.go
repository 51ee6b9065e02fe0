package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/entitler/internal/app/api/server"
	"github.com/fatflowers/entitler/internal/app/service/entitlement"
	"github.com/fatflowers/entitler/internal/app/service/ledger"
	notificationhandler "github.com/fatflowers/entitler/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/entitler/internal/app/service/notification_log"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/app/service/statistics"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/platform/cache"
	"github.com/fatflowers/entitler/internal/platform/db"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule wires everything except transports: config, storage, rail
// adapters and the reconciliation engine. cmd/sweeper runs on it alone.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	ledger.Module,
	verification.Module,
	entitlement.Module,
	notify.Module,
	reconciliation.Module,
)

var Module = fx.Options(
	CoreModule,
	notificationlog.Module,
	notificationhandler.Module,
	statistics.Module,
	server.Module,
)
