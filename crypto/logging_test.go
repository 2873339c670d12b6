package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevLevel, prevFormatter := logrus.StandardLogger().Out, logrus.GetLevel(), logrus.StandardLogger().Formatter
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	t.Cleanup(func() {
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})
	return &buf
}

func TestNewLogger(t *testing.T) {
	buf := captureLogs(t)

	NewLogger("CipherBox.Encrypt").Info("sealed")

	out := buf.String()
	assert.Contains(t, out, "function=CipherBox.Encrypt")
	assert.Contains(t, out, "package=crypto")
	assert.Contains(t, out, "msg=sealed")
}

func TestLoggerHelper_Fields(t *testing.T) {
	buf := captureLogs(t)

	NewLogger("Decrypt").
		WithSuite(SuiteAES256GCM).
		WithFields(logrus.Fields{"size": 12}).
		WithError(errors.New("auth failed"), "open").
		Warn("dropped")

	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "suite=aes-256-gcm")
	assert.Contains(t, out, "size=12")
	assert.Contains(t, out, `error="auth failed"`)
	assert.Contains(t, out, "operation=open")
}

func TestNewCipherBox_GeneratedKeyLogsAtInfo(t *testing.T) {
	buf := captureLogs(t)
	logrus.SetLevel(logrus.InfoLevel)

	box, err := NewCipherBox("")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, "generated=true")
	assert.Contains(t, out, "function=NewCipherBoxWithSuite")
	assert.NotContains(t, out, box.Key())

	buf.Reset()
	_, err = NewCipherBox(box.Key())
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "supplied keys log at debug only")
}

func TestLoggerHelper_DebugFiltered(t *testing.T) {
	buf := captureLogs(t)
	logrus.SetLevel(logrus.InfoLevel)

	NewLogger("Quiet").Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestLoggerHelper_WithSuiteDoesNotMutateParent(t *testing.T) {
	buf := captureLogs(t)

	base := NewLogger("NewCipherBoxWithSuite")
	base.WithSuite(SuiteChaCha20Poly1305).Info("derived")
	base.Info("base")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "suite=chacha20-poly1305")
	assert.NotContains(t, lines[1], "suite=")
}

func TestSecureFieldHash(t *testing.T) {
	empty := SecureFieldHash(nil, "blob")
	assert.Equal(t, "none", empty["blob_fp"])
	assert.Equal(t, 0, empty["blob_size"])

	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05}
	fields := SecureFieldHash(data, "blob")
	fp, ok := fields["blob_fp"].(string)
	require.True(t, ok)
	assert.Len(t, fp, 12)
	assert.NotContains(t, fp, "deadbeef")
	assert.Equal(t, 9, fields["blob_size"])

	assert.Equal(t, fp, SecureFieldHash(append([]byte(nil), data...), "blob")["blob_fp"])
	assert.NotEqual(t, fp, SecureFieldHash(data[:8], "blob")["blob_fp"])
}
