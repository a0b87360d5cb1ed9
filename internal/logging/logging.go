package logging

import (
	"io"
	"log"
)

// Loggers groups the three loggers every stage writes to
type Loggers struct {
	Execution *log.Logger
	Training  *log.Logger
	Test      *log.Logger
}

// New creates the loggers on a single writer
func New(w io.Writer) *Loggers {
	return &Loggers{
		Execution: log.New(w, "[execution] ", log.LstdFlags),
		Training:  log.New(w, "[training] ", log.LstdFlags),
		Test:      log.New(w, "[test] ", log.LstdFlags),
	}
}

// Discard returns loggers that drop all output
func Discard() *Loggers {
	return New(io.Discard)
}
