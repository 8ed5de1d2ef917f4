package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stagewhisper/internal/bootstrap"
	"stagewhisper/internal/domain"
	"stagewhisper/internal/usecase"
)

// App owns the assembled runtime and implements ports.EventSink, so backend
// components surface state changes without knowing about the transport.
type App struct {
	log *zap.Logger

	services bootstrap.Services
	bootErr  error
}

func NewApp(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{log: logger}
}

// Startup builds the service graph. A failure is remembered so Status can
// report it; Run refuses to start an unbuilt app.
func (a *App) Startup(overrides map[string]string) {
	services, err := bootstrap.Build(a, a.log, overrides)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.ConnectionStateChanged(domain.ConnectionIdle, domain.ReasonStartup)
}

// Run serves the control API until ctx is canceled or the server fails.
// With autostart the transcription session starts immediately instead of
// waiting for an API call.
func (a *App) Run(ctx context.Context, autostart bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go a.services.Hub.Run(hubCtx)

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.services.Server.Start() }()

	if autostart {
		if err := a.services.Coordinator.Start(ctx); err != nil {
			a.log.Warn("automatic session start failed", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = err
	}

	if err := a.services.Coordinator.Stop(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		a.log.Warn("session stop during shutdown failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.services.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.services.Server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown failed", zap.Error(err))
	}

	return runErr
}

// Status reports runtime status, including the degraded states before and
// after a failed startup.
func (a *App) Status() domain.Status {
	if a.bootErr != nil {
		return domain.Status{Connection: domain.ConnectionClosed, Message: a.bootErr.Error()}
	}
	if a.services.Coordinator == nil {
		return domain.Status{Connection: domain.ConnectionIdle}
	}
	return a.services.Coordinator.Status()
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Coordinator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ConnectionStateChanged logs and broadcasts connection lifecycle updates.
func (a *App) ConnectionStateChanged(state domain.ConnectionState, reason domain.StateReason) {
	a.log.Info("connection state changed",
		zap.String("state", string(state)),
		zap.String("reason", string(reason)))
	if a.services.Hub != nil {
		a.services.Hub.PublishState(state, reason)
	}
}

// SessionError logs and broadcasts backend errors.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.log.Error("session error",
		zap.String("code", string(code)),
		zap.String("detail", detail))
	if a.services.Hub != nil {
		a.services.Hub.PublishError(code, detail)
	}
}
