package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"movie-match/internal/repository"
)

// 条件检查，Put 和 Update 脚本共用。
// HGET 不存在的字段在 Lua 中返回 false。
const checkConditionsLua = `
local function check(key, conds)
  for _, c in ipairs(conds) do
    local v = redis.call('HGET', key, c.attr)
    if c.op == 'exists' then
      if not v then return false end
    elseif c.op == 'not_exists' then
      if v then return false end
    elseif c.op == 'eq' then
      if (not v) or v ~= c.value then return false end
    elseif c.op == 'ne' then
      if v and v == c.value then return false end
    else
      return false
    end
  end
  return true
end
`

// KEYS[1] 记录 key，KEYS[2..] 需要登记该记录的分区/索引集合
// ARGV[1] 条件 JSON，ARGV[2] 属性 (扁平 k,v 数组 JSON)
var putScript = redis.NewScript(checkConditionsLua + `
if not check(KEYS[1], cjson.decode(ARGV[1])) then return 0 end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(cjson.decode(ARGV[2])))
for i = 2, #KEYS do redis.call('SADD', KEYS[i], KEYS[1]) end
return 1
`)

// ARGV[1] 条件 JSON，ARGV[2] SET (扁平数组)，ARGV[3] ADD (扁平数组，增量为字符串)，ARGV[4] REMOVE
// 条件不满足时返回 nil (客户端得到 redis.Nil)。
var updateScript = redis.NewScript(checkConditionsLua + `
if not check(KEYS[1], cjson.decode(ARGV[1])) then return false end
local set = cjson.decode(ARGV[2])
if #set > 0 then redis.call('HSET', KEYS[1], unpack(set)) end
local add = cjson.decode(ARGV[3])
for i = 1, #add, 2 do redis.call('HINCRBY', KEYS[1], add[i], add[i + 1]) end
local rem = cjson.decode(ARGV[4])
if #rem > 0 then redis.call('HDEL', KEYS[1], unpack(rem)) end
for i = 2, #KEYS do redis.call('SADD', KEYS[i], KEYS[1]) end
return redis.call('HGETALL', KEYS[1])
`)

// Store 是 KeyValueStore 的 Redis 实现。
// 每条记录是一个 Hash；每个分区和每个索引值对应一个 Set，保存成员记录的 key。
// 条件写通过单个 Lua 脚本执行，保证单条记录的原子性。
type Store struct {
	client    *redis.Client
	keyPrefix string
	schemas   repository.Schemas
}

// NewStore 创建 Redis 存储
func NewStore(client *redis.Client, keyPrefix string, tables []repository.TableSchema) *Store {
	if client == nil {
		panic("redis client cannot be nil for redis KeyValueStore")
	}
	if keyPrefix == "" {
		keyPrefix = "mm:" // 默认前缀 "mm:" (movie-match)
	}
	if len(tables) == 0 {
		tables = repository.DefaultTables()
	}
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		schemas:   repository.NewSchemas(tables),
	}
}

// --- Key Generation Helpers ---
func (s *Store) itemKey(table string, key repository.Key) string {
	return fmt.Sprintf("%skv:%s:%s", s.keyPrefix, table, key.String())
}

func (s *Store) partitionSetKey(table, partition string) string {
	return fmt.Sprintf("%sidx:%s:pk:%s", s.keyPrefix, table, partition)
}

func (s *Store) indexSetKey(table, attr, value string) string {
	return fmt.Sprintf("%sidx:%s:%s:%s", s.keyPrefix, table, attr, value)
}

// setKeysFor 返回一条记录需要登记的集合 key：分区集合，以及 attrs 中出现的索引属性。
func (s *Store) setKeysFor(schema repository.TableSchema, key repository.Key, attrs map[string]string) []string {
	keys := []string{s.partitionSetKey(schema.Name, key.Partition)}
	for _, idx := range schema.Indexes {
		if v, ok := attrs[idx]; ok && v != "" {
			keys = append(keys, s.indexSetKey(schema.Name, idx, v))
		}
	}
	return keys
}

func (s *Store) Get(ctx context.Context, table string, key repository.Key) (repository.Item, error) {
	if _, err := s.schemas.Lookup(table); err != nil {
		return nil, err
	}
	redisKey := s.itemKey(table, key)
	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get %s: %w", redisKey, classify(err))
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return repository.Item(fields), nil
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
	condJSON, err := encodeConditions(conds)
	if err != nil {
		return err
	}
	attrJSON, err := json.Marshal(flatten(item))
	if err != nil {
		return fmt.Errorf("redis: failed to marshal item for %s: %w", table, err)
	}

	redisKey := s.itemKey(table, key)
	keys := append([]string{redisKey}, s.setKeysFor(schema, key, item)...)
	res, err := putScript.Run(ctx, s.client, keys, condJSON, attrJSON).Int64()
	if err != nil {
		return fmt.Errorf("redis: put %s: %w", redisKey, classify(err))
	}
	if res == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, key repository.Key, expr repository.UpdateExpr, conds ...repository.Condition) (repository.Item, error) {
	schema, err := s.schemas.Lookup(table)
	if err != nil {
		return nil, err
	}
	condJSON, err := encodeConditions(conds)
	if err != nil {
		return nil, err
	}

	// 主键属性随 SET 一起写入，upsert 创建的记录因此也带有主键
	set := repository.WithKey(schema, repository.Item{}, key)
	for k, v := range expr.Set {
		set[k] = v
	}
	add := make([]string, 0, len(expr.Add)*2)
	for k, delta := range expr.Add {
		add = append(add, k, fmt.Sprintf("%d", delta))
	}
	remove := expr.Remove
	if remove == nil {
		remove = []string{}
	}
	setJSON, _ := json.Marshal(flatten(set))
	addJSON, _ := json.Marshal(add)
	removeJSON, _ := json.Marshal(remove)

	redisKey := s.itemKey(table, key)
	keys := append([]string{redisKey}, s.setKeysFor(schema, key, set)...)
	raw, err := updateScript.Run(ctx, s.client, keys, condJSON, setJSON, addJSON, removeJSON).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrConditionFailed
		}
		return nil, fmt.Errorf("redis: update %s: %w", redisKey, classify(err))
	}
	return pairsToItem(raw), nil
}

func (s *Store) Query(ctx context.Context, in repository.QueryInput) ([]repository.Item, error) {
	schema, err := s.schemas.ValidateQuery(in)
	if err != nil {
		return nil, err
	}
	setKey := s.partitionSetKey(in.Table, in.Partition)
	if in.Index != "" {
		setKey = s.indexSetKey(in.Table, in.Index, in.Partition)
	}

	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: query members of %s: %w", setKey, classify(err))
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: query items of %s: %w", setKey, classify(err))
	}

	out := make([]repository.Item, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		// 集合里可能残留已删除或索引值已变化的记录，重新核对
		if len(fields) == 0 || !repository.MatchesQuery(schema, in, fields) {
			continue
		}
		out = append(out, repository.Item(fields))
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, table string, key repository.Key) error {
	if _, err := s.schemas.Lookup(table); err != nil {
		return err
	}
	redisKey := s.itemKey(table, key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisKey)
	pipe.SRem(ctx, s.partitionSetKey(table, key.Partition), redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete %s: %w", redisKey, classify(err))
	}
	return nil
}

// --- helpers ---

func encodeConditions(conds []repository.Condition) (string, error) {
	if conds == nil {
		conds = []repository.Condition{}
	}
	b, err := json.Marshal(conds)
	if err != nil {
		return "", fmt.Errorf("redis: failed to marshal conditions: %w", err)
	}
	return string(b), nil
}

func flatten(item repository.Item) []string {
	out := make([]string, 0, len(item)*2)
	for k, v := range item {
		out = append(out, k, v)
	}
	return out
}

func pairsToItem(raw []interface{}) repository.Item {
	item := make(repository.Item, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		item[k] = v
	}
	return item
}

// 这些 Redis 错误前缀表示服务端暂时不可用，可以重试。
var transientReplies = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

// classify 把网络类、超时类和服务端繁忙类错误标记为 repository.ErrTransient。
func classify(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		strings.Contains(err.Error(), "connection pool timeout"):
		return repository.Transient(err)
	}
	for _, prefix := range transientReplies {
		if strings.HasPrefix(err.Error(), prefix) {
			logrus.WithError(err).Debug("redis: transient server reply")
			return repository.Transient(err)
		}
	}
	return err
}
