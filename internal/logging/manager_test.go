package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Логгеры пишут файлы в logs/ относительно рабочей директории,
// поэтому тесты уводят её во временную.
func chtmp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoggerManager_ReusesComponentLogger(t *testing.T) {
	chtmp(t)

	lm := GetLoggerManager()
	t.Cleanup(func() { _ = lm.CloseAll() })

	first, err := lm.GetLogger("api")
	require.NoError(t, err)
	second, err := lm.GetLogger("api")
	require.NoError(t, err)
	assert.Same(t, first, second, "компонент получает один и тот же логгер")

	assert.Same(t, first, GetComponentLogger("api"))

	other, err := lm.GetLogger("storage")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestLoggerManager_SetLogLevel(t *testing.T) {
	chtmp(t)

	lm := GetLoggerManager()
	t.Cleanup(func() { _ = lm.CloseAll() })

	logger, err := lm.GetLogger("worker")
	require.NoError(t, err)

	require.NoError(t, lm.SetLogLevel("worker", ERROR, DEBUG))
	assert.Equal(t, ERROR, logger.minConsoleLevel)
	assert.Equal(t, DEBUG, logger.minFileLevel)

	assert.Error(t, lm.SetLogLevel("ghost", INFO, INFO))
}

func TestLoggerManager_CloseAll(t *testing.T) {
	chtmp(t)

	lm := GetLoggerManager()
	before, err := lm.GetLogger("api")
	require.NoError(t, err)
	require.NoError(t, lm.CloseAll())

	// После закрытия компонент получает свежий логгер
	after, err := lm.GetLogger("api")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	_ = lm.CloseAll()
}

func TestMustGetLogger_FallsBackToConsole(t *testing.T) {
	chtmp(t)

	// NUL в имени компонента: файл не создаётся, но логгер возвращается
	logger := GetComponentLogger("bad\x00component")
	require.NotNil(t, logger)
	logger.Info("сообщение уходит в консоль")
	_ = GetLoggerManager().CloseAll()
}
