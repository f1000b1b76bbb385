package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/loadcache"
)

func TestLoggerWritesFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	boom := errors.New("boom")
	l.Error("load failed", loadcache.Fields{"cache": "users", "err": boom})

	e := hook.LastEntry()
	require.NotNil(t, e)
	require.Equal(t, logrus.ErrorLevel, e.Level)
	require.Equal(t, "load failed", e.Message)
	require.Equal(t, "loadcache", e.Data["component"])
	require.Equal(t, "users", e.Data["cache"])
	require.Equal(t, boom, e.Data[logrus.ErrorKey])

	l.Debug("sweep", nil)
	require.Len(t, hook.AllEntries(), 2)
}
