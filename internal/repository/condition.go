package repository

import (
	"fmt"
	"strconv"
)

// ConditionOp 条件表达式的操作符
type ConditionOp string

const (
	OpExists    ConditionOp = "exists"     // attribute_exists(a)
	OpNotExists ConditionOp = "not_exists" // attribute_not_exists(a)
	OpEquals    ConditionOp = "eq"         // a = v
	OpNotEquals ConditionOp = "ne"         // a <> v，属性不存在时视为成立
)

// Condition 是作用于单条记录的前置条件，多个条件之间是 AND 关系。
type Condition struct {
	Op    ConditionOp `json:"op"`
	Attr  string      `json:"attr"`
	Value string      `json:"value"`
}

func AttributeExists(attr string) Condition    { return Condition{Op: OpExists, Attr: attr} }
func AttributeNotExists(attr string) Condition { return Condition{Op: OpNotExists, Attr: attr} }
func Equals(attr, value string) Condition      { return Condition{Op: OpEquals, Attr: attr, Value: value} }
func NotEquals(attr, value string) Condition   { return Condition{Op: OpNotEquals, Attr: attr, Value: value} }

// EvaluateConditions 在 item 上求值所有条件，item 为 nil 表示记录不存在。
func EvaluateConditions(item Item, conds []Condition) bool {
	for _, c := range conds {
		v, ok := item[c.Attr]
		switch c.Op {
		case OpExists:
			if !ok {
				return false
			}
		case OpNotExists:
			if ok {
				return false
			}
		case OpEquals:
			if !ok || v != c.Value {
				return false
			}
		case OpNotEquals:
			if ok && v == c.Value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ApplyUpdate 把 UpdateExpr 应用到 item 的副本上并返回新记录。
// 供没有原生表达式支持的存储实现 (内存、SQL) 共用。
func ApplyUpdate(item Item, expr UpdateExpr) (Item, error) {
	out := item.Clone()
	for k, v := range expr.Set {
		out[k] = v
	}
	for k, delta := range expr.Add {
		var cur int64
		if raw, ok := out[k]; ok && raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("repository: ADD on non-numeric attribute %q (%q): %w", k, raw, err)
			}
			cur = n
		}
		out[k] = strconv.FormatInt(cur+delta, 10)
	}
	for _, k := range expr.Remove {
		delete(out, k)
	}
	return out, nil
}
