package notify

import (
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
	"tutorsync/pkg/types"
)

// LogToaster displays toasts as log lines. The daemon uses it in place of
// a UI.
type LogToaster struct {
	logger logrus.FieldLogger
}

var _ interfaces.Toaster = (*LogToaster)(nil)

func NewLogToaster(logger logrus.FieldLogger) *LogToaster {
	return &LogToaster{logger: logger.WithField("component", "toast")}
}

func (t *LogToaster) Toast(message string, severity types.Severity) error {
	entry := t.logger.WithField("severity", severity)
	switch severity {
	case types.SeverityError:
		entry.Error(message)
	case types.SeverityWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
	return nil
}
