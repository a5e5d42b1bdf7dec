package job

import (
	"time"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

// Product is one output reported by a builder.
type Product struct {
	// Name is relative to the platform cache directory, forward slashes.
	Name             string
	SubID            uint32
	PathDependencies []pathdep.Dependency
}

// Result is the terminal outcome a worker reports for a run.
type Result struct {
	State    State
	Message  string
	Err      error
	Products []Product
	Duration time.Duration
}

// Completed builds a successful result.
func Completed(products []Product) Result {
	return Result{State: StateCompleted, Products: products}
}

// Failed builds a failure result.
func Failed(err error) Result {
	res := Result{State: StateFailed, Err: err}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Cancelled builds a cancellation result.
func Cancelled(reason string) Result {
	return Result{State: StateCancelled, Message: reason}
}
