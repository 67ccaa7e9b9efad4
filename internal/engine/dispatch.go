package engine

import "fmt"

// dispatch runs a blocking task on its own goroutine and delivers exactly
// one completion back on the interaction loop, even if the task panics.
// Each call is independent; callers needing serialization gate with busy
// flags before dispatching.
func dispatch[T any](post func(func()) bool, task func() (T, error), done func(T, error)) {
	go func() {
		var val T
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task panic: %v", r)
				}
			}()
			val, err = task()
		}()
		post(func() { done(val, err) })
	}()
}

// dispatchErr is dispatch for tasks with no result value.
func dispatchErr(post func(func()) bool, task func() error, done func(error)) {
	dispatch(post, func() (struct{}, error) {
		return struct{}{}, task()
	}, func(_ struct{}, err error) {
		done(err)
	})
}
