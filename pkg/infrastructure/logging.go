// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLoggerAdapter routes Fx lifecycle events into a zap logger. Successful
// wiring events are logged at Debug so a normal start stays quiet; failures
// are logged at Error with the offending constructor or hook.
type FxLoggerAdapter struct {
	logger *zap.Logger
}

// NewFxLoggerAdapter creates a new Fx logger adapter that implements fxevent.Logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (p *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		p.logger.Debug("OnStart hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		p.hookResult("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		p.logger.Debug("OnStop hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		p.hookResult("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		p.result("supplied", e.Err, zap.String("type", e.TypeName), zap.String("module", e.ModuleName))
	case *fxevent.Provided:
		p.result("provided", e.Err,
			zap.String("constructor", e.ConstructorName),
			zap.Strings("types", e.OutputTypeNames),
			zap.String("module", e.ModuleName))
	case *fxevent.Decorated:
		p.result("decorated", e.Err,
			zap.String("decorator", e.DecoratorName),
			zap.Strings("types", e.OutputTypeNames))
	case *fxevent.Invoking:
		p.logger.Debug("invoking", zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Invoked:
		p.result("invoked", e.Err, zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Stopping:
		p.logger.Info("received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		p.lifecycle("stopped", e.Err)
	case *fxevent.RollingBack:
		p.logger.Error("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		p.lifecycle("rolled back", e.Err)
	case *fxevent.Started:
		p.lifecycle("started", e.Err)
	case *fxevent.LoggerInitialized:
		p.result("logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		p.logger.Debug("unhandled fx event", zap.String("event", fmt.Sprintf("%T", event)))
	}
}

func (p *FxLoggerAdapter) hookResult(kind, callee, caller, runtime string, err error) {
	fields := []zap.Field{zap.String("callee", callee), zap.String("caller", caller)}
	if err != nil {
		p.logger.Error(kind+" hook failed", append(fields, zap.Error(err))...)

		return
	}
	p.logger.Debug(kind+" hook executed", append(fields, zap.String("runtime", runtime))...)
}

func (p *FxLoggerAdapter) result(action string, err error, fields ...zap.Field) {
	if err != nil {
		p.logger.Error(action+" with error", append(fields, zap.Error(err))...)

		return
	}
	p.logger.Debug(action, fields...)
}

func (p *FxLoggerAdapter) lifecycle(action string, err error) {
	if err != nil {
		p.logger.Error(action+" with error", zap.Error(err))

		return
	}
	p.logger.Info(action)
}
