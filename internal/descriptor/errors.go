package descriptor

import "fmt"

// SchemaError reports a malformed or inconsistent descriptor: an undefined
// template reference, an undeclared stage, a cyclic template chain or an
// unparsable filter pattern. It is always raised before any job runs.
type SchemaError struct {
	Message string
}

func (e SchemaError) Error() string {
	return e.Message
}

func newSchemaErrorf(format string, args ...any) SchemaError {
	return SchemaError{Message: fmt.Sprintf(format, args...)}
}
