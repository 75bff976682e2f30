// Package log implements the structured logger used across sail: a
// thin, copyable wrapper that formats a message plus a field map and
// hands the line to an Output, and that can present itself to
// go.uber.org/zap as a zapcore.Core so third-party code expecting a
// *zap.Logger still lands in the same place.
package log

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mademast/sail/framework/exterrors"
	"go.uber.org/zap"
)

// Logger writes formatted lines to an Output. It is stateless and safe
// to copy; only the underlying Output may need its own synchronisation.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are merged into every message this Logger writes.
	Fields map[string]interface{}
}

// Zap adapts the Logger into a *zap.Logger, for code (e.g. miekg/dns
// client setup) that expects one.
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapCore{l: l})
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

// Msg writes a machine-parseable event line: "msg\t{json fields}".
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Error writes an event line describing err, pulling in any fields
// attached via exterrors.WithFields along the Unwrap chain.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	allFields := exterrors.Fields(err)
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				out[fmt.Sprintf("field%d", i)] = val
				continue
			}
			lastKey = key
			continue
		}
		out[lastKey] = val
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	b.WriteByte('\t')

	if len(l.Fields)+len(fields) == 0 {
		return b.String()
	}

	if fields == nil {
		fields = make(map[string]interface{})
	}
	for k, v := range l.Fields {
		fields[k] = v
	}
	// encoding/json sorts map keys, so output is deterministic without
	// a separate ordered-encoding pass.
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("[unencodable fields: %v] %s %+v", err, msg, fields)
	}
	b.Write(encoded)
	return b.String()
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}
	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
	}
}

// DefaultLogger is used by the package-level logging functions.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, true)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
