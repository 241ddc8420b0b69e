package errutil

import (
	"errors"
	"fmt"
)

// Maybe wraps err with msg, or returns nil if err is nil.
func Maybe(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func ToIsErrFunc(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}
