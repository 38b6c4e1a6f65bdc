package postgres

import (
	"context"
	"strings"
)

// IsolationLevel はトランザクション分離レベル
type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "READ COMMITTED"
	RepeatableRead IsolationLevel = "REPEATABLE READ"
	Serializable   IsolationLevel = "SERIALIZABLE"
)

// TransactionBuilder は BEGIN TRANSACTION 文を組み立てて実行する
// 未指定の項目はサーバーのデフォルトに従う
type TransactionBuilder struct {
	conn       *Connection
	isolation  IsolationLevel
	readOnly   *bool
	deferrable *bool
}

func (b *TransactionBuilder) ReadCommitted() *TransactionBuilder {
	b.isolation = ReadCommitted
	return b
}

func (b *TransactionBuilder) RepeatableRead() *TransactionBuilder {
	b.isolation = RepeatableRead
	return b
}

func (b *TransactionBuilder) Serializable() *TransactionBuilder {
	b.isolation = Serializable
	return b
}

func (b *TransactionBuilder) ReadOnly() *TransactionBuilder {
	b.readOnly = boolPtr(true)
	return b
}

func (b *TransactionBuilder) ReadWrite() *TransactionBuilder {
	b.readOnly = boolPtr(false)
	return b
}

// Deferrable は SERIALIZABLE READ ONLY と組み合わせたときのみ意味を持つ
func (b *TransactionBuilder) Deferrable() *TransactionBuilder {
	b.deferrable = boolPtr(true)
	return b
}

func (b *TransactionBuilder) NotDeferrable() *TransactionBuilder {
	b.deferrable = boolPtr(false)
	return b
}

// SQL は発行する BEGIN 文を返す
func (b *TransactionBuilder) SQL() string {
	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION")
	if b.isolation != "" {
		sb.WriteString(" ISOLATION LEVEL ")
		sb.WriteString(string(b.isolation))
	}
	if b.readOnly != nil {
		if *b.readOnly {
			sb.WriteString(" READ ONLY")
		} else {
			sb.WriteString(" READ WRITE")
		}
	}
	if b.deferrable != nil {
		if *b.deferrable {
			sb.WriteString(" DEFERRABLE")
		} else {
			sb.WriteString(" NOT DEFERRABLE")
		}
	}
	return sb.String()
}

// Run は fn をこの設定のトランザクション内で実行する
// 既にトランザクション内であれば ErrAlreadyInTransaction を返す
func (b *TransactionBuilder) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	sql := b.SQL()
	return b.conn.run(ctx, func(ctx context.Context) error {
		return b.conn.BeginWithSQL(ctx, sql)
	}, fn)
}

func boolPtr(v bool) *bool {
	return &v
}
