package transaction

import (
	"errors"
	"fmt"
)

// Transaction ドメインのエラー定義
var (
	ErrAlreadyInTransaction         = errors.New("既にトランザクション内です")
	ErrNoTransaction                = errors.New("トランザクションが開始されていません")
	ErrNestedTransactionUnsupported = errors.New("このバックエンドはネストしたトランザクションをサポートしていません")
	ErrConnectionBroken             = errors.New("コネクションが破損しています")
)

// ErrorKind はデータベースエラーの分類
type ErrorKind int

const (
	KindOther ErrorKind = iota
	// KindSerializationFailure は直列化の競合。コミットされていないことが保証される
	KindSerializationFailure
	// KindReadOnlyTransaction は読み取り専用トランザクションでの書き込み。コミットされていないことが保証される
	KindReadOnlyTransaction
)

func (k ErrorKind) String() string {
	switch k {
	case KindSerializationFailure:
		return "serialization_failure"
	case KindReadOnlyTransaction:
		return "read_only_transaction"
	default:
		return "other"
	}
}

// DatabaseError はバックエンドが返した分類済みのエラー
type DatabaseError struct {
	Kind ErrorKind
	Err  error
}

func NewDatabaseError(kind ErrorKind, err error) *DatabaseError {
	return &DatabaseError{Kind: kind, Err: err}
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("データベースエラー (%s): %v", e.Kind, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// KindOf はエラーの分類を返す。DatabaseError を含まない場合は KindOther
func KindOf(err error) ErrorKind {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Kind
	}
	return KindOther
}

// IsRecoverableCommitFailure は COMMIT 失敗後に ROLLBACK が成功すると期待できるエラーかを返す
func IsRecoverableCommitFailure(err error) bool {
	switch KindOf(err) {
	case KindSerializationFailure, KindReadOnlyTransaction:
		return true
	}
	return false
}

// ConnectionBrokenError は COMMIT 失敗後の補償 ROLLBACK も失敗したことを表す
// コミットも中断もできないトランザクションが残っているため、コネクションは再利用できない
type ConnectionBrokenError struct {
	CommitErr   error
	RollbackErr error
}

func (e *ConnectionBrokenError) Error() string {
	return fmt.Sprintf("コミット失敗後のロールバックに失敗しました: %v (コミットエラー: %v)", e.RollbackErr, e.CommitErr)
}

// Unwrap はロールバックのエラーを返す
func (e *ConnectionBrokenError) Unwrap() error {
	return e.RollbackErr
}

func (e *ConnectionBrokenError) Is(target error) bool {
	return target == ErrConnectionBroken
}

// IsConnectionBroken はコネクションを破棄すべきエラーかを返す
func IsConnectionBroken(err error) bool {
	return errors.Is(err, ErrConnectionBroken)
}
