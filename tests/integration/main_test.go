package integration

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	code := m.Run()
	TerminateSharedContainer()
	TerminateRedisContainer()
	os.Exit(code)
}
