package logger

import (
	"os"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"
)

// RollbarHook forwards error, fatal and panic entries to Rollbar.
type RollbarHook struct {
	report func(level logrus.Level, args ...interface{})
}

var _ logrus.Hook = (*RollbarHook)(nil)

// NewRollbarHook configures the global Rollbar client.
func NewRollbarHook(token, env, build string) *RollbarHook {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(build)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	return &RollbarHook{report: report}
}

func report(level logrus.Level, args ...interface{}) {
	if level <= logrus.FatalLevel {
		rollbar.Critical(args...)
		return
	}
	rollbar.Error(args...)
}

func (h *RollbarHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

// Fire sends the entry message with its fields as extras. An error stored by
// WithError is reported as the error itself when it survived as an error value.
func (h *RollbarHook) Fire(e *logrus.Entry) error {
	extras := make(map[string]interface{}, len(e.Data)+1)
	var cause error
	for k, v := range e.Data {
		if err, ok := v.(error); ok && k == logrus.ErrorKey {
			cause = err
			continue
		}
		extras[k] = v
	}
	extras["message"] = e.Message
	if cause != nil {
		h.report(e.Level, cause, extras)
		return nil
	}
	h.report(e.Level, e.Message, extras)
	return nil
}

// Flush waits for queued Rollbar items to be sent.
func Flush() { rollbar.Wait() }
