package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-nested-tx/internal/config"
	"github.com/sanosuguru/go-nested-tx/internal/domain/transaction"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-nested-tx/internal/pkg/metrics"
	"github.com/sanosuguru/go-nested-tx/internal/txmanager"
)

// ConnOptions はコネクションの設定
type ConnOptions struct {
	Backend         transaction.Backend
	SavepointPrefix string
	Metrics         *metrics.Metrics
}

// OptionsFromConfig は設定からコネクションの設定を作成する
func OptionsFromConfig(cfg *config.TransactionConfig, m *metrics.Metrics) ConnOptions {
	backend := transaction.PostgreSQL
	backend.UsesANSISavepointSyntax = cfg.AnsiSavepoints
	return ConnOptions{Backend: backend, SavepointPrefix: cfg.SavepointPrefix, Metrics: m}
}

// ConnectionFactory はプールから専有コネクションを取り出す
type ConnectionFactory struct {
	db   *sqlx.DB
	opts ConnOptions
}

func NewConnectionFactory(db *sqlx.DB, opts ConnOptions) *ConnectionFactory {
	return &ConnectionFactory{db: db, opts: opts}
}

// Open はプールからコネクションを 1 つ専有し、深度 0 のマネージャーを割り当てる
func (f *ConnectionFactory) Open(ctx context.Context) (*Connection, error) {
	conn, err := f.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("コネクション取得に失敗: %w", err)
	}
	return newConnection(conn, f.opts), nil
}

// Connection はプールから専有した 1 つのコネクションと、そのトランザクション深度を持つ
// 1 つの goroutine からのみ使用すること
type Connection struct {
	id      string
	conn    *sqlx.Conn
	manager transaction.Manager
	metrics *metrics.Metrics
	log     *zap.Logger
	broken  error
}

func newConnection(conn *sqlx.Conn, opts ConnOptions) *Connection {
	id := uuid.New().String()
	c := &Connection{
		id:      id,
		conn:    conn,
		metrics: opts.Metrics,
		log:     logger.ForConnection(id),
	}
	txOpts := []txmanager.Option{
		txmanager.WithSavepointPrefix(opts.SavepointPrefix),
		txmanager.WithLogger(c.log),
	}
	if opts.Metrics != nil {
		txOpts = append(txOpts, txmanager.WithObserver(opts.Metrics))
	}
	c.manager = txmanager.New(opts.Backend, c, txOpts...)
	return c
}

// ID はログ用のコネクションIDを返す
func (c *Connection) ID() string {
	return c.id
}

// BatchExecute は SQL をそのまま実行し、エラーを分類して返す
func (c *Connection) BatchExecute(ctx context.Context, sql string) error {
	if c.broken != nil {
		return c.broken
	}
	start := time.Now()
	_, err := c.conn.ExecContext(ctx, sql)
	if c.metrics != nil {
		c.metrics.ObserveStatement(statementLabel(sql), time.Since(start))
	}
	c.log.Debug("文を実行", zap.String("sql", sql), zap.Int("depth", c.manager.Depth()), zap.Error(err))
	return classify(err)
}

// statementLabel は SQL の先頭キーワードを返す
func statementLabel(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "EMPTY"
	}
	return strings.ToUpper(fields[0])
}

// Begin はトランザクションまたはセーブポイントを開始する
func (c *Connection) Begin(ctx context.Context) error {
	return c.track(c.manager.Begin(ctx))
}

// BeginWithSQL は任意の SQL でトップレベルのトランザクションを開始する
func (c *Connection) BeginWithSQL(ctx context.Context, sql string) error {
	return c.track(c.manager.BeginWithSQL(ctx, sql))
}

// Commit は最も内側のトランザクションまたはセーブポイントをコミットする
func (c *Connection) Commit(ctx context.Context) error {
	return c.track(c.manager.Commit(ctx))
}

// Rollback は最も内側のトランザクションまたはセーブポイントをロールバックする
func (c *Connection) Rollback(ctx context.Context) error {
	return c.track(c.manager.Rollback(ctx))
}

// Depth は現在のトランザクション深度を返す
func (c *Connection) Depth() int {
	return c.manager.Depth()
}

// IsBroken はコネクションが破損しているかを返す
func (c *Connection) IsBroken() bool {
	return c.broken != nil
}

// track は破損を示すエラーを記録し、以降の文の実行を拒否させる
func (c *Connection) track(err error) error {
	if err != nil && c.broken == nil && transaction.IsConnectionBroken(err) {
		c.broken = err
		if c.metrics != nil {
			c.metrics.ObserveBrokenConnection()
		}
	}
	return err
}

// BeginTestTransaction はコミットされないテスト用のトランザクションを開始する
// 既にトランザクション内であれば ErrAlreadyInTransaction を返す
func (c *Connection) BeginTestTransaction(ctx context.Context) error {
	if c.Depth() > 0 {
		return transaction.ErrAlreadyInTransaction
	}
	return c.Begin(ctx)
}

// Transaction は fn をトランザクション内で実行する
// fn がエラーを返すかパニックした場合はロールバックし、成功した場合はコミットする
// トランザクション内で呼ばれた場合はセーブポイントになる
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.run(ctx, c.Begin, fn)
}

// BuildTransaction は分離レベル等を指定したトランザクションのビルダーを返す
func (c *Connection) BuildTransaction() *TransactionBuilder {
	return &TransactionBuilder{conn: c}
}

func (c *Connection) run(ctx context.Context, begin func(ctx context.Context) error, fn func(ctx context.Context) error) error {
	if err := begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := c.Rollback(ctx); rbErr != nil {
				c.log.Error("パニック後のロールバックに失敗", zap.Error(rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			c.log.Warn("ロールバックに失敗", zap.NamedError("cause", err), zap.Error(rbErr))
			return rbErr
		}
		return err
	}
	return c.Commit(ctx)
}

// ExecContext はこのコネクション上で文を実行する
func (c *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) error {
	if c.broken != nil {
		return c.broken
	}
	_, err := c.conn.ExecContext(ctx, query, args...)
	return classify(err)
}

// GetContext はこのコネクション上で 1 行を取得する
func (c *Connection) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if c.broken != nil {
		return c.broken
	}
	return classify(c.conn.GetContext(ctx, dest, query, args...))
}

// SelectContext はこのコネクション上で複数行を取得する
func (c *Connection) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if c.broken != nil {
		return c.broken
	}
	return classify(c.conn.SelectContext(ctx, dest, query, args...))
}

// Close はコネクションをプールに返す
// 破損しているか、トランザクションが開いたままのコネクションはプールから破棄する
func (c *Connection) Close() error {
	if c.broken != nil || c.Depth() != 0 {
		c.log.Warn("コネクションを破棄します", zap.Int("depth", c.Depth()), zap.Bool("broken", c.broken != nil))
		// Raw が driver.ErrBadConn を返すとプールはこのコネクションを閉じて再利用しない
		err := c.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		if errors.Is(err, driver.ErrBadConn) {
			return nil
		}
		return err
	}
	return c.conn.Close()
}

var (
	_ transaction.Executor = (*Connection)(nil)
	_ transaction.Manager  = (*Connection)(nil)
)
