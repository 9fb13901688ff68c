package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

// Provider renders user-facing documents.
type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

var Module = fx.Module("pdf.provider",
	fx.Provide(New),
)
