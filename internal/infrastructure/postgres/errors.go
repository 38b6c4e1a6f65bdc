package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
)

// SQLSTATE
const (
	codeSerializationFailure   = "40001"
	codeReadOnlySQLTransaction = "25006"
	codeInFailedSQLTransaction = "25P02"
	codeUniqueViolation        = "23505"
)

// classify は pq のエラーを transaction.DatabaseError に分類する
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return transaction.NewDatabaseError(transaction.KindOther, err)
	}
	switch pqErr.Code {
	case codeSerializationFailure:
		return transaction.NewDatabaseError(transaction.KindSerializationFailure, err)
	case codeReadOnlySQLTransaction:
		return transaction.NewDatabaseError(transaction.KindReadOnlyTransaction, err)
	default:
		return transaction.NewDatabaseError(transaction.KindOther, err)
	}
}

// SQLState はエラーに含まれる SQLSTATE を返す。pq のエラーでなければ空文字
func SQLState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
