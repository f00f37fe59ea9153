package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

func init() {
	metadata.Register(metadata.AdapterRegistration{
		Info: metadata.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
		},
		Factory: func(ctx context.Context, params metadata.ConnectParams, logger *zap.Logger) (metadata.Source, error) {
			return New(ctx, params, logger)
		},
	})
}
