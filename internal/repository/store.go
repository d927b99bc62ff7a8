package repository

import (
	"context"
	"fmt"
)

// Item 是存储层看到的一条记录：属性名到字符串值的扁平映射。
// 领域对象与 Item 之间的编解码在 service 层完成，存储实现只处理字符串。
type Item map[string]string

// Clone 返回 Item 的副本，避免调用方修改存储内部数据。
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// Key 是一条记录的主键。没有排序键的表 Sort 为空。
type Key struct {
	Partition string
	Sort      string
}

func (k Key) String() string {
	if k.Sort == "" {
		return k.Partition
	}
	return k.Partition + "|" + k.Sort
}

// UpdateExpr 描述一次单条记录的原子更新。
type UpdateExpr struct {
	Set    map[string]string // 覆盖写属性
	Add    map[string]int64  // 原子整数累加 (ADD 语义，属性不存在时从 0 开始)
	Remove []string          // 删除属性
}

// QueryInput 描述一次按分区键或索引的查询。
type QueryInput struct {
	Table     string
	Index     string      // 为空时按表分区键查询，否则按该属性的等值索引查询
	Partition string      // 分区键 (或索引属性) 的值
	Filter    []Condition // 查询后对每条记录再过滤
}

// KeyValueStore 是核心依赖的存储抽象：只提供单条记录原子性，不提供跨记录事务。
type KeyValueStore interface {
	// Get 读取一条记录，不存在时返回 ErrNotFound。
	Get(ctx context.Context, table string, key Key) (Item, error)

	// Put 整条写入记录 (主键由表 schema 从 item 中推导)。
	// 条件不满足时返回 ErrConditionFailed，且不做任何修改。
	Put(ctx context.Context, table string, item Item, conds ...Condition) error

	// Update 原子地更新一条记录并返回更新后的完整记录。
	// 记录不存在且条件允许时会创建记录 (upsert)。
	Update(ctx context.Context, table string, key Key, expr UpdateExpr, conds ...Condition) (Item, error)

	// Query 按分区键或等值索引查询，再按 Filter 过滤。结果顺序不保证。
	Query(ctx context.Context, in QueryInput) ([]Item, error)

	// Delete 删除一条记录，记录不存在时不报错。
	Delete(ctx context.Context, table string, key Key) error
}

// KeyOf 根据表 schema 从 item 中取出主键。
func KeyOf(schema TableSchema, item Item) (Key, error) {
	pk := item[schema.PartitionKey]
	if pk == "" {
		return Key{}, fmt.Errorf("%w: %s.%s", ErrMissingKey, schema.Name, schema.PartitionKey)
	}
	key := Key{Partition: pk}
	if schema.SortKey != "" {
		sk := item[schema.SortKey]
		if sk == "" {
			return Key{}, fmt.Errorf("%w: %s.%s", ErrMissingKey, schema.Name, schema.SortKey)
		}
		key.Sort = sk
	}
	return key, nil
}

// WithKey 把主键属性写回 item (Update 创建新记录时需要)。
func WithKey(schema TableSchema, item Item, key Key) Item {
	item[schema.PartitionKey] = key.Partition
	if schema.SortKey != "" {
		item[schema.SortKey] = key.Sort
	}
	return item
}
