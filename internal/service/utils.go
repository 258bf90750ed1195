package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/jackc/pgx/v5"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func marshalReasonMetadata(reason string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"reason": reason,
	})
}

func accountLookupError(err error, operation string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func transactionLookupError(err error, operation string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrTransactionNotFound
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func normalizePage(page, pageSize int) (limit, offset int32) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	// Keep the offset within int32; such a page is simply empty.
	if maxPage := math.MaxInt32/pageSize + 1; page > maxPage {
		page = maxPage
	}
	return int32(pageSize), int32((page - 1) * pageSize)
}
