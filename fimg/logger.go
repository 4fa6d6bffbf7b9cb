package fimg

import (
	"io"

	"golang.org/x/exp/slog"
)

func newNopLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}
