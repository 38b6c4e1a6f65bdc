package transaction

import "context"

// Executor はコネクションの文実行チャネルを表すインターフェース
// SQL テキストを一括実行し、成功または分類済みのエラーを返す
type Executor interface {
	// BatchExecute は SQL を実行する
	// 失敗時は DatabaseError で分類されたエラーを返すこと
	BatchExecute(ctx context.Context, sql string) error
}

// Manager はコネクション単位でトランザクション深度を管理するインターフェース
// コネクションを所有する 1 つの呼び出し元からのみ使用すること（スレッドセーフではない）
type Manager interface {
	// Begin はトランザクションを開始する。既にトランザクション内ならセーブポイントを作成する
	Begin(ctx context.Context) error

	// BeginWithSQL は任意の SQL でトップレベルのトランザクションを開始する
	// 分離レベルやアクセスモードの指定に使う。深度が 0 以外なら ErrAlreadyInTransaction
	BeginWithSQL(ctx context.Context, sql string) error

	// Commit は最も内側のトランザクションまたはセーブポイントをコミットする
	Commit(ctx context.Context) error

	// Rollback は最も内側のトランザクションまたはセーブポイントをロールバックする
	Rollback(ctx context.Context) error

	// Depth は現在のトランザクション深度を返す
	Depth() int
}

// Backend はバックエンドの能力を表す記述子
type Backend struct {
	Name string
	// UsesANSISavepointSyntax が true なら SAVEPOINT / RELEASE SAVEPOINT /
	// ROLLBACK TO SAVEPOINT でネストしたトランザクションを表現できる
	UsesANSISavepointSyntax bool
}

var (
	// PostgreSQL は ANSI セーブポイント構文をサポートする
	PostgreSQL = Backend{Name: "postgres", UsesANSISavepointSyntax: true}
	// SQLite も ANSI セーブポイント構文をサポートする
	SQLite = Backend{Name: "sqlite", UsesANSISavepointSyntax: true}
)
