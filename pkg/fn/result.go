// Package fn provides small generic building blocks for composing the
// engine's pipelines: a Result type, context-aware stages, bounded parallel
// mapping, and retry with exponential backoff.
package fn

// Result[T] carries either a value or an error.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err creates a failed Result.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// IsOk reports success.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports failure.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr returns the value, or fallback on error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.val
}

// FromPair lifts a (value, error) pair into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// Collect returns all values if every result is ok, or the first error.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	for i, r := range results {
		if !r.ok {
			return Err[[]T](r.err)
		}
		out[i] = r.val
	}
	return Ok(out)
}
