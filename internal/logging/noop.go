package logging

// Noop is a Logger that discards everything. Used in tests and in any
// component that has not been handed a real logger.
type Noop struct{}

func (Noop) Debug(string, ...any) {}
func (Noop) Info(string, ...any)  {}
func (Noop) Warn(string, ...any)  {}
func (Noop) Error(string, ...any) {}
func (Noop) With(...any) Logger   { return Noop{} }
func (Noop) Sync() error          { return nil }
