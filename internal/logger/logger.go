// Package logger provides the configured zerolog logger.
package logger

import (
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

// New returns a JSON logger on stdout tagged with the service name and sets it
// as the global zerolog logger.
func New(serviceName, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, serviceName, level)
}

func NewWithWriter(w io.Writer, serviceName, level string) zerolog.Logger {
	// .Stack() on error events renders a stack even for plain errors.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	l := zerolog.New(w).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
	zlog.Logger = l
	return l
}
