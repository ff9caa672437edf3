//go:build !gcp

package backup

import (
	"context"
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

func newGCSSink(ctx context.Context, bucket, prefix string) (ports.BackupSink, error) {
	return nil, fmt.Errorf("gcs backups require a build with the gcp tag")
}
