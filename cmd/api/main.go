package main

// @title           Botoracle Backend API
// @version         1.0
// @description     Quota, subscription, payment reconciliation and CRM outreach for the oracle bot.

// @host      localhost:8888
// @BasePath  /

// @securityDefinitions.apikey  AdminBearer
// @in                          header
// @name                        Authorization

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	a := fx.New(app.Module)

	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		// the app logger may not exist yet
		zap.NewExample().Sugar().Errorw("failed to start", "err", err)
		return 1
	}

	sig := <-a.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorw("failed to stop", "err", err)
		return 1
	}
	return sig.ExitCode
}
