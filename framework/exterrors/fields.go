// Package exterrors extends Go's error values with a structured field
// map that survives wrapping, so a deeply nested error can still
// surface e.g. {"domain": "...", "remote_addr": "..."} to the logger
// without every call site threading that context through manually.
package exterrors

type fieldsErr interface {
	Fields() map[string]interface{}
}

type unwrapper interface {
	Unwrap() error
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string { return fw.err.Error() }
func (fw fieldsWrap) Unwrap() error { return fw.err }
func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields walks the Unwrap chain of err and merges every Fields() map
// it finds, with fields on outer (more specific) errors taking
// precedence over inner ones.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)

	for err != nil {
		if fe, ok := err.(fieldsErr); ok {
			for k, v := range fe.Fields() {
				if fields[k] != nil {
					continue
				}
				fields[k] = v
			}
		}

		u, ok := err.(unwrapper)
		if !ok {
			break
		}
		err = u.Unwrap()
	}

	return fields
}

// WithFields attaches a field map to err without altering its message
// or Is/As identity (Unwrap still reaches the original error).
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}
