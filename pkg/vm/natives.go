package vm

import (
	"fmt"
	"time"

	"github.com/kristofer/lox/pkg/value"
)

// bindNatives registers the natives every VM starts with: clock() for
// measuring elapsed wall-clock time, and println for output that
// doesn't require a statement-level `print`.
func bindNatives(vm *VM) {
	start := time.Now()
	vm.RegisterNative("clock", 0, func(args []value.Value) (value.Value, error) {
		return value.Number(time.Since(start).Seconds()), nil
	})
	vm.RegisterNative("println", 1, func(args []value.Value) (value.Value, error) {
		fmt.Fprintln(vm.stdout, value.Stringify(args[0]))
		return value.NilValue, nil
	})
}
