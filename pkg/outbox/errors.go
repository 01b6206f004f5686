package outbox

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("outbox: invalid configuration")

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(msg, args...))
}
