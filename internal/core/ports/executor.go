// Package ports defines the core interfaces for the application.
package ports

import (
	"context"
	"io"

	"go.trai.ch/kiln/internal/core/domain"
)

// Executor runs commands for exec worker tasks.
//
//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Execute runs spec and streams its combined output to out.
	// It returns the exit code alongside any error.
	Execute(ctx context.Context, spec domain.ExecSpec, out io.Writer) (int, error)
}
