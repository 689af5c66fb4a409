package settlement

import (
	"context"

	"github.com/google/uuid"
)

// orgScopedTx hides rows owned by other organisations. A foreign batch or
// item reads as missing.
type orgScopedTx struct {
	TxRepository
	orgID int64
}

func scopeToOrg(tx TxRepository, orgID int64) TxRepository {
	return orgScopedTx{TxRepository: tx, orgID: orgID}
}

func (s orgScopedTx) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (Batch, error) {
	batch, err := s.TxRepository.GetBatchForUpdate(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if batch.OrgID != s.orgID {
		return Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

func (s orgScopedTx) GetItemForUpdate(ctx context.Context, id int64) (BillableItem, error) {
	item, err := s.TxRepository.GetItemForUpdate(ctx, id)
	if err != nil {
		return BillableItem{}, err
	}
	if item.OrgID != s.orgID {
		return BillableItem{}, ErrItemNotFound
	}
	return item, nil
}
