package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// applyQueryTimeout 在 ctx 未设置更早截止时间时应用默认查询超时
func (c *Client) applyQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.QueryTimeout)
	}
	return ctx, func() {}
}

// Exec 执行写操作，返回影响行数
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ctx, cancel := c.applyQueryTimeout(ctx)
	defer cancel()

	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ErrNoRows 查询无结果，存储层据此返回 (nil, nil)
var ErrNoRows = errors.New("postgres: no rows")

// Row 单行结果，无数据时 Scan 返回 ErrNoRows
type Row struct {
	row    pgx.Row
	cancel context.CancelFunc
}

// Scan 读取列值
func (r *Row) Scan(dest ...any) error {
	defer r.cancel()
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoRows
		}
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// QueryRow 查询单行
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) *Row {
	ctx, cancel := c.applyQueryTimeout(ctx)
	return &Row{row: c.pool.QueryRow(ctx, sql, args...), cancel: cancel}
}

// QueryFunc 查询多行，逐行回调
func (c *Client) QueryFunc(ctx context.Context, sql string, args []any, fn func(pgx.Rows) error) error {
	ctx, cancel := c.applyQueryTimeout(ctx)
	defer cancel()

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration failed: %w", err)
	}
	return nil
}
