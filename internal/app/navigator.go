package app

import (
	"github.com/sirupsen/logrus"

	"tutorsync/pkg/interfaces"
)

// LogNavigator records navigation requests as log lines. A UI embedding
// the core supplies its own Navigator.
type LogNavigator struct {
	logger logrus.FieldLogger
}

var _ interfaces.Navigator = (*LogNavigator)(nil)

func NewLogNavigator(logger logrus.FieldLogger) *LogNavigator {
	return &LogNavigator{logger: logger.WithField("component", "navigator")}
}

func (n *LogNavigator) OpenSession(sessionID, statusParam string) error {
	n.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"status":  statusParam,
	}).Info("open session workspace")
	return nil
}
