package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/vectorindex"
)

type OrphanVectorCleanupJob struct {
	pruner vectorindex.Pruner
}

func NewOrphanVectorCleanupJob(pruner vectorindex.Pruner) *OrphanVectorCleanupJob {
	return &OrphanVectorCleanupJob{pruner: pruner}
}

func (j *OrphanVectorCleanupJob) Name() string {
	return "orphan_vector_cleanup"
}

func (j *OrphanVectorCleanupJob) Run(ctx context.Context) error {
	if j.pruner == nil {
		return nil
	}
	n, err := j.pruner.PruneOrphans(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("orphan vectors pruned", zap.Int64("vectors", n))
	}
	return nil
}
