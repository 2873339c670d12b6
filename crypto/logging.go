package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// LoggerHelper builds log entries for this package. Every entry carries the
// calling function and package=crypto.
type LoggerHelper struct {
	entry *logrus.Entry
}

// NewLogger starts an entry for function.
func NewLogger(function string) *LoggerHelper {
	return &LoggerHelper{entry: logrus.WithFields(logrus.Fields{
		"function": function,
		"package":  "crypto",
	})}
}

// WithSuite records the AEAD suite.
func (l *LoggerHelper) WithSuite(s Suite) *LoggerHelper {
	return &LoggerHelper{entry: l.entry.WithField("suite", s.String())}
}

// WithFields merges fields into the entry.
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	return &LoggerHelper{entry: l.entry.WithFields(fields)}
}

// WithError records err and the operation that produced it.
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	return &LoggerHelper{entry: l.entry.WithFields(logrus.Fields{
		"error":     err.Error(),
		"operation": operation,
	})}
}

func (l *LoggerHelper) Debug(message string) { l.entry.Debug(message) }
func (l *LoggerHelper) Info(message string)  { l.entry.Info(message) }
func (l *LoggerHelper) Warn(message string)  { l.entry.Warn(message) }

// SecureFieldHash describes opaque data by length and a truncated SHA-256
// fingerprint, so two log lines about the same blob can be correlated
// without printing any of its bytes.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	fp := "none"
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		fp = hex.EncodeToString(sum[:6])
	}
	return logrus.Fields{
		name + "_fp":   fp,
		name + "_size": len(data),
	}
}
