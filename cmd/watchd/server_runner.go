package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kavymi/meepo-sub001/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

type managedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

type serverRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return e.name + " server: " + e.err.Error()
}

func (e *serverError) Unwrap() error {
	return e.err
}

// Run serves until stop is done or a server exits, then shuts every server
// down. It returns the first unexpected server error.
func (runner *serverRunner) Run(stop context.Context, servers ...managedServer) error {
	started := 0
	errorsChan := make(chan serverError, len(servers))
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		started++
		go func() {
			errorsChan <- serverError{name: server.Name, err: server.Serve()}
		}()
	}
	if started == 0 {
		return nil
	}

	var initialError *serverError
	select {
	case err := <-errorsChan:
		initialError = &err
	case <-stop.Done():
	}
	runner.logServerError(initialError)

	timeout := runner.timeout()
	shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownContext); err != nil {
			runner.Logger.Warn("server shutdown failed", map[string]string{
				"server": server.Name,
				"error":  err.Error(),
			})
		}
	}

	runner.drainServerErrors(errorsChan, started, initialError != nil, timeout)
	if initialError == nil || initialError.err == nil || errors.Is(initialError.err, http.ErrServerClosed) {
		return nil
	}
	return initialError
}

func (runner *serverRunner) timeout() time.Duration {
	if runner.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return runner.ShutdownTimeout
}

func (runner *serverRunner) logServerError(serverErr *serverError) {
	if serverErr == nil || serverErr.err == nil || errors.Is(serverErr.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("server stopped", map[string]string{
		"server": serverErr.name,
		"error":  serverErr.err.Error(),
	})
}

func (runner *serverRunner) drainServerErrors(errorsChan <-chan serverError, total int, initialLogged bool, timeout time.Duration) {
	pending := total
	if initialLogged {
		pending--
	}
	deadline := time.After(timeout)
	for i := 0; i < pending; i++ {
		select {
		case err := <-errorsChan:
			runner.logServerError(&err)
		case <-deadline:
			return
		}
	}
}
