package app

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/internal/app/api/server"
	"github.com/stepun/botoracle/internal/app/service/crm"
	"github.com/stepun/botoracle/internal/app/service/events"
	notificationlog "github.com/stepun/botoracle/internal/app/service/notification_log"
	"github.com/stepun/botoracle/internal/app/service/payment"
	"github.com/stepun/botoracle/internal/app/service/quota"
	"github.com/stepun/botoracle/internal/app/service/statistics"
	"github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/platform/db"
	"github.com/stepun/botoracle/internal/platform/robokassa"
	"github.com/stepun/botoracle/internal/platform/telegram"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	fx.WithLogger(func(log *zap.SugaredLogger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Desugar()}
	}),
	config.Module,
	db.Module,
	events.Module,
	notificationlog.Module,
	robokassa.Module,
	telegram.Module,
	user.Module,
	subscription.Module,
	quota.Module,
	payment.Module,
	crm.Module,
	statistics.Module,
	server.Module,
)
