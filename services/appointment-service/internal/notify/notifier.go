package notify

import "github.com/sirupsen/logrus"

// Notifier is the delivery seam; only the log-backed stub exists here.
type Notifier interface {
	Notify(subject, message string) error
}

type LogNotifier struct {
	log *logrus.Logger
}

func NewLog(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(subject, message string) error {
	n.log.WithField("subject", subject).Info(message)
	return nil
}
