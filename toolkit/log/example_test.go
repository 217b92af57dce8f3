package log_test

import (
	"context"
	"log/slog"
	"os"

	"github.com/quay/cvssd/toolkit/log"
)

// Attributes added to a Context with [log.With] appear on every record
// logged with that Context.
func ExampleWith() {
	h := log.WrapHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	l := slog.New(h)
	ctx := log.With(context.Background(), "request_id", "1234")

	// Prefer key-value pairs over formatted messages.
	l.InfoContext(ctx, "scored", "vector", "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "score", 9.8)
	// Output:
	// level=INFO msg=scored vector=CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H score=9.8 request_id=1234
}
