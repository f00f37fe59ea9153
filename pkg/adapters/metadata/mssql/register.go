package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

func init() {
	metadata.Register(metadata.AdapterRegistration{
		Info: metadata.AdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
		},
		Factory: func(ctx context.Context, params metadata.ConnectParams, logger *zap.Logger) (metadata.Source, error) {
			return New(ctx, params, logger)
		},
	})
}
