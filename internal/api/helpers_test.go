package api

import (
	"io"
	"log/slog"

	"quantdesk/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func configServer() config.Server {
	return config.Server{Host: "127.0.0.1"}
}
