package safe

import (
	"fmt"
	"reflect"

	"DuoChat/logger"
)

// MustNotNil panics when the value is nil. Used to make missing
// collaborators a construction-time failure instead of a runtime one.
func MustNotNil(v any, name string) {
	if v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil()) {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
}

// Go starts a goroutine that recovers from panics, so one connection's
// failure cannot take the process down with it.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
