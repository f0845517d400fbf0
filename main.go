package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/meko-christian/mbwatch/cmd"
)

func main() {
	// Use a JSON handler for structured logs; the command adjusts the
	// level once flags are parsed.
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	if err := cmd.Execute(); err != nil {
		slog.Error("mbwatch failed", "error", err.Error())

		code := 1
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		os.Exit(code)
	}
}
