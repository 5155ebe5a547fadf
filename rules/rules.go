//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags hand-rolled Add/Done goroutines; every component starts
// its workers with wg.Go.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... })").
		Suggest("$wg.Go(func() { $*_ })")
}

// ModuleLogger keeps logger construction in each package's GetLogger.
func ModuleLogger(m dsl.Matcher) {
	m.Match(`logger.Global().Module($_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().Name.Matches(`^(logging|logger)\.go$`)).
		Report("call GetLogger() instead of building a module logger inline")
}

// TimeTick leaks its ticker; the receiver, engine and node loops stop theirs.
func TimeTick(m dsl.Matcher) {
	m.Match(`time.Tick($_)`).
		Report("time.Tick cannot be stopped, use time.NewTicker and defer Stop")
}

// FloatEquality flags exact float comparisons in tests. Positions, energies
// and confidences come out of floating point arithmetic.
func FloatEquality(m dsl.Matcher) {
	m.Match(`assert.Equal($t, $x, $y)`, `require.Equal($t, $x, $y)`).
		Where(m.File().Name.Matches(`_test\.go$`) &&
			(m["x"].Type.Is("float64") || m["y"].Type.Is("float64"))).
		Report("compare floats with InDelta")
}

// BareStdError steers internal packages to the error builder so errors carry
// a component and category.
func BareStdError(m dsl.Matcher) {
	m.Import("errors")
	m.Match(`errors.New($msg)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/errors$`) &&
			!m.File().Name.Matches(`_test\.go$`) &&
			m.File().Imports("errors")).
		Report("use errors.Newf($msg).Component(...).Category(...).Build() from internal/errors")
}
