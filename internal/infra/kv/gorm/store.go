package gormkv

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"movie-match/internal/repository"
)

// ItemRow 是 kv_items 表的一行，属性以 JSON 对象保存。
type ItemRow struct {
	Tbl       string    `gorm:"column:tbl;primaryKey;size:64"`
	PK        string    `gorm:"column:pk;primaryKey;size:191"`
	SK        string    `gorm:"column:sk;primaryKey;size:191"`
	Attrs     string    `gorm:"column:attrs;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ItemRow) TableName() string { return "kv_items" }

// IndexRow 是 kv_index_entries 表的一行，登记 (表, 索引属性, 值) -> 记录主键。
type IndexRow struct {
	Tbl   string `gorm:"column:tbl;primaryKey;size:64"`
	Attr  string `gorm:"column:attr;primaryKey;size:64"`
	Value string `gorm:"column:value;primaryKey;size:191"`
	PK    string `gorm:"column:pk;primaryKey;size:191"`
	SK    string `gorm:"column:sk;primaryKey;size:191"`
}

func (IndexRow) TableName() string { return "kv_index_entries" }

// Models 返回需要迁移的模型。
func Models() []interface{} {
	return []interface{}{&ItemRow{}, &IndexRow{}}
}

// Store 是 KeyValueStore 的 GORM 实现。
// 条件写在事务中先 SELECT ... FOR UPDATE 锁住行，在 Go 中求值条件后再写入；
// 记录不存在时由主键唯一约束保证 create-if-absent 只有一个赢家。
type Store struct {
	db      *gorm.DB
	schemas repository.Schemas
}

// NewStore 创建 GORM 存储
func NewStore(db *gorm.DB, tables []repository.TableSchema) *Store {
	if db == nil {
		panic("database connection cannot be nil for gorm KeyValueStore")
	}
	if len(tables) == 0 {
		tables = repository.DefaultTables()
	}
	return &Store{db: db, schemas: repository.NewSchemas(tables)}
}

func (s *Store) Get(ctx context.Context, table string, key repository.Key) (repository.Item, error) {
	if _, err := s.schemas.Lookup(table); err != nil {
		return nil, err
	}
	var rows []ItemRow
	err := s.db.WithContext(ctx).
		Where("tbl = ? AND pk = ? AND sk = ?", table, key.Partition, key.Sort).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: get %s/%s: %w", table, key, classify(err))
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return decodeAttrs(rows[0].Attrs)
}

func (s *Store) Put(ctx context.Context, table string, item repository.Item, conds ...repository.Condition) error {
	schema, err := s.schemas.Lookup(table)
	if err != nil {
		return err
	}
	key, err := repository.KeyOf(schema, item)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, exists, err := lockRow(tx, table, key)
		if err != nil {
			return err
		}
		if !repository.EvaluateConditions(current, conds) {
			return repository.ErrConditionFailed
		}
		return writeRow(tx, schema, key, item, exists)
	})
	return s.mapTxError(err, table, key, conds)
}

func (s *Store) Update(ctx context.Context, table string, key repository.Key, expr repository.UpdateExpr, conds ...repository.Condition) (repository.Item, error) {
	schema, err := s.schemas.Lookup(table)
	if err != nil {
		return nil, err
	}
	var updated repository.Item
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, exists, err := lockRow(tx, table, key)
		if err != nil {
			return err
		}
		if !repository.EvaluateConditions(current, conds) {
			return repository.ErrConditionFailed
		}
		if !exists {
			current = repository.WithKey(schema, repository.Item{}, key)
		}
		updated, err = repository.ApplyUpdate(current, expr)
		if err != nil {
			return err
		}
		return writeRow(tx, schema, key, updated, exists)
	})
	if err != nil {
		return nil, s.mapTxError(err, table, key, conds)
	}
	return updated, nil
}

func (s *Store) Query(ctx context.Context, in repository.QueryInput) ([]repository.Item, error) {
	schema, err := s.schemas.ValidateQuery(in)
	if err != nil {
		return nil, err
	}
	var rows []ItemRow
	q := s.db.WithContext(ctx).Model(&ItemRow{})
	if in.Index == "" {
		q = q.Where("tbl = ? AND pk = ?", in.Table, in.Partition)
	} else {
		q = q.Select("kv_items.*").Joins("JOIN kv_index_entries e ON e.tbl = kv_items.tbl AND e.pk = kv_items.pk AND e.sk = kv_items.sk").
			Where("e.tbl = ? AND e.attr = ? AND e.value = ?", in.Table, in.Index, in.Partition)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gorm: query %s (index %q, value %q): %w", in.Table, in.Index, in.Partition, classify(err))
	}

	out := make([]repository.Item, 0, len(rows))
	for _, row := range rows {
		item, err := decodeAttrs(row.Attrs)
		if err != nil {
			return nil, err
		}
		// 索引条目可能落后于记录当前值，重新核对
		if repository.MatchesQuery(schema, in, item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, table string, key repository.Key) error {
	if _, err := s.schemas.Lookup(table); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		where := "tbl = ? AND pk = ? AND sk = ?"
		if err := tx.Where(where, table, key.Partition, key.Sort).Delete(&ItemRow{}).Error; err != nil {
			return err
		}
		return tx.Where(where, table, key.Partition, key.Sort).Delete(&IndexRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("gorm: delete %s/%s: %w", table, key, classify(err))
	}
	return nil
}

// lockRow 在事务中锁定并读取一行 (sqlite 会忽略 FOR UPDATE，整个数据库串行写入)。
func lockRow(tx *gorm.DB, table string, key repository.Key) (repository.Item, bool, error) {
	var rows []ItemRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tbl = ? AND pk = ? AND sk = ?", table, key.Partition, key.Sort).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	item, err := decodeAttrs(rows[0].Attrs)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func writeRow(tx *gorm.DB, schema repository.TableSchema, key repository.Key, item repository.Item, exists bool) error {
	attrs, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("gorm: failed to marshal attributes: %w", err)
	}
	if exists {
		err = tx.Model(&ItemRow{}).
			Where("tbl = ? AND pk = ? AND sk = ?", schema.Name, key.Partition, key.Sort).
			Updates(map[string]interface{}{"attrs": string(attrs), "updated_at": time.Now().UTC()}).Error
	} else {
		err = tx.Create(&ItemRow{Tbl: schema.Name, PK: key.Partition, SK: key.Sort, Attrs: string(attrs)}).Error
	}
	if err != nil {
		return err
	}
	for _, idx := range schema.Indexes {
		v, ok := item[idx]
		if !ok || v == "" {
			continue
		}
		entry := &IndexRow{Tbl: schema.Name, Attr: idx, Value: v, PK: key.Partition, SK: key.Sort}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error; err != nil {
			return err
		}
	}
	return nil
}

// mapTxError 把事务错误映射为仓库错误。
// 两个事务同时插入同一主键时，输家收到唯一约束错误：对 create-if-absent 来说就是条件失败，
// 其他情况交给重试策略再来一次。
func (s *Store) mapTxError(err error, table string, key repository.Key, conds []repository.Condition) error {
	if err == nil || errors.Is(err, repository.ErrConditionFailed) {
		return err
	}
	if isDuplicateEntry(err) {
		for _, c := range conds {
			if c.Op == repository.OpNotExists {
				return repository.ErrConditionFailed
			}
		}
		return fmt.Errorf("gorm: write %s/%s raced with a concurrent insert: %w", table, key, repository.Transient(err))
	}
	return fmt.Errorf("gorm: write %s/%s: %w", table, key, classify(err))
}

func decodeAttrs(raw string) (repository.Item, error) {
	item := repository.Item{}
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("gorm: failed to unmarshal attributes: %w", err)
	}
	return item, nil
}

func isDuplicateEntry(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") // sqlite
}

// classify 把死锁、锁等待超时、坏连接等标记为可重试。
func classify(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	switch {
	case errors.As(err, &mysqlErr) && (mysqlErr.Number == 1205 || mysqlErr.Number == 1213):
		return repository.Transient(err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(err.Error(), "database is locked"):
		return repository.Transient(err)
	}
	return err
}
