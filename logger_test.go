package bgsync

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.InfoLevel)

	l := NewLogrusLogger(base, "queue")
	l.Debugf("hidden %d", 1)
	require.Zero(t, buf.Len(), "debug filtered by level")

	l.Warnf("replay failed: queue=%s", "outbox")
	require.Contains(t, buf.String(), `"component":"queue"`)
	require.Contains(t, buf.String(), `"level":"warning"`)
	require.Contains(t, buf.String(), "replay failed: queue=outbox")
}

func TestLoggers_SatisfyInterface(t *testing.T) {
	var _ Logger = NewFmtLogger()
	var _ Logger = noopLogger{}
	var _ Logger = NewLogrusLogger(logrus.New(), "x")
}
