package routinggates

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	_ = os.Setenv("GO_APP_ENV", "production")
	_ = os.Setenv("LOG_CONSOLE", "true")

	os.Exit(m.Run())
}
