// Package memory 提供 KeyValueStore 的进程内实现，用于测试和本地开发。
package memory

import (
	"context"
	"sync"

	"movie-match/internal/repository"
)

// Store 用一把 RWMutex 保护的 map 实现 KeyValueStore。
// 每个操作持锁完成，因此单条记录的条件写天然是原子的。
type Store struct {
	mu      sync.RWMutex
	schemas repository.Schemas
	tables  map[string]map[repository.Key]repository.Item
}

// NewStore 创建内存存储，tables 为空时使用默认表定义。
func NewStore(tables ...repository.TableSchema) *Store {
	if len(tables) == 0 {
		tables = repository.DefaultTables()
	}
	s := &Store{
		schemas: repository.NewSchemas(tables),
		tables:  make(map[string]map[repository.Key]repository.Item),
	}
	for _, t := range tables {
		s.tables[t.Name] = make(map[repository.Key]repository.Item)
	}
	return s
}

// Get 返回记录的副本，防止外部修改。
func (s *Store) Get(ctx context.Context, table string, key repository.Key) (repository.Item, error) {
	if _, err := s.schemas.Lookup(table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.tables[table][key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return item.Clone(), nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.tables[table][key] // 不存在时为 nil
	if !repository.EvaluateConditions(current, conds) {
		return repository.ErrConditionFailed
	}
	s.tables[table][key] = item.Clone()
	return nil
}

func (s *Store) Update(ctx context.Context, table string, key repository.Key, expr repository.UpdateExpr, conds ...repository.Condition) (repository.Item, error) {
	schema, err := s.schemas.Lookup(table)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tables[table][key]
	if !repository.EvaluateConditions(current, conds) {
		return nil, repository.ErrConditionFailed
	}
	if !ok {
		current = repository.WithKey(schema, repository.Item{}, key)
	}
	updated, err := repository.ApplyUpdate(current, expr)
	if err != nil {
		return nil, err
	}
	s.tables[table][key] = updated
	return updated.Clone(), nil
}

func (s *Store) Query(ctx context.Context, in repository.QueryInput) ([]repository.Item, error) {
	schema, err := s.schemas.ValidateQuery(in)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []repository.Item
	for _, item := range s.tables[in.Table] {
		if repository.MatchesQuery(schema, in, item) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, table string, key repository.Key) error {
	if _, err := s.schemas.Lookup(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[table], key)
	return nil
}

// Len 返回某张表的记录数，测试中用来断言没有多余写入。
func (s *Store) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}
