package repository

import "fmt"

// 表名常量
const (
	TableRooms        = "rooms"
	TableRoomMembers  = "room_members"
	TableVoteTallies  = "vote_tallies"
	TableUserVotes    = "user_votes"
	TableInviteCodes  = "invite_codes"
	TableRoomInvites  = "room_invites"
	TableContentCache = "room_content_cache"
)

// TableSchema 描述一张表的主键和等值索引。
type TableSchema struct {
	Name         string
	PartitionKey string
	SortKey      string   // 可为空
	Indexes      []string // 支持 Query(Index=attr) 的属性
}

// HasIndex 判断属性是否声明为索引。
func (s TableSchema) HasIndex(attr string) bool {
	for _, idx := range s.Indexes {
		if idx == attr {
			return true
		}
	}
	return false
}

// DefaultTables 返回本服务使用的全部表定义。
func DefaultTables() []TableSchema {
	return []TableSchema{
		{Name: TableRooms, PartitionKey: "roomId"},
		{Name: TableRoomMembers, PartitionKey: "roomId", SortKey: "userId"},
		{Name: TableVoteTallies, PartitionKey: "roomId", SortKey: "itemId"},
		{Name: TableUserVotes, PartitionKey: "userId", SortKey: "roomItem", Indexes: []string{"roomId"}},
		{Name: TableInviteCodes, PartitionKey: "code", Indexes: []string{"roomId"}},
		{Name: TableRoomInvites, PartitionKey: "roomId", SortKey: "code"},
		{Name: TableContentCache, PartitionKey: "roomId"},
	}
}

// Schemas 是按表名查找 schema 的注册表，存储实现在构造时持有一份。
type Schemas map[string]TableSchema

// NewSchemas 从表定义列表构建注册表。
func NewSchemas(tables []TableSchema) Schemas {
	s := make(Schemas, len(tables))
	for _, t := range tables {
		s[t.Name] = t
	}
	return s
}

// Lookup 查找表 schema，未注册时返回 ErrUnknownTable。
func (s Schemas) Lookup(table string) (TableSchema, error) {
	schema, ok := s[table]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return schema, nil
}

// ValidateQuery 检查查询所用的索引是否已声明。
func (s Schemas) ValidateQuery(in QueryInput) (TableSchema, error) {
	schema, err := s.Lookup(in.Table)
	if err != nil {
		return TableSchema{}, err
	}
	if in.Index != "" && !schema.HasIndex(in.Index) {
		return TableSchema{}, fmt.Errorf("repository: table %s has no index on %q", in.Table, in.Index)
	}
	return schema, nil
}

// MatchesQuery 判断一条记录是否满足查询的分区 (或索引) 值与过滤条件。
func MatchesQuery(schema TableSchema, in QueryInput, item Item) bool {
	attr := schema.PartitionKey
	if in.Index != "" {
		attr = in.Index
	}
	if item[attr] != in.Partition {
		return false
	}
	return EvaluateConditions(item, in.Filter)
}
