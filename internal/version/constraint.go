package version

import (
	"fmt"
	"strings"
)

var operators = []string{">=", "<=", "==", "!=", ">", "<"}

// Satisfies 检查版本是否满足约束
// 约束为逗号分隔的子句，全部成立才满足，例如 ">=34.0.0, <40"；
// 不带运算符的版本号等价于 "=="；空约束总是满足。
func Satisfies(family, raw, constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true, nil
	}

	p := ForFamily(family)
	have, err := p.Parse(raw)
	if err != nil {
		return false, err
	}

	for _, clause := range strings.Split(constraint, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, operand := splitClause(clause)
		want, err := p.Parse(operand)
		if err != nil {
			return false, fmt.Errorf("invalid constraint %q: %w", clause, err)
		}
		if !compareWith(op, have.Compare(want)) {
			return false, nil
		}
	}
	return true, nil
}

// ExactPin 约束是否为单个 "==" 子句，返回被固定的版本
func ExactPin(constraint string) (string, bool) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || strings.Contains(constraint, ",") {
		return "", false
	}
	op, operand := splitClause(constraint)
	if op != "==" {
		return "", false
	}
	return operand, true
}

func splitClause(clause string) (string, string) {
	for _, op := range operators {
		if strings.HasPrefix(clause, op) {
			return op, strings.TrimSpace(strings.TrimPrefix(clause, op))
		}
	}
	return "==", clause
}

func compareWith(op string, cmp int) bool {
	switch op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "!=":
		return cmp != 0
	default:
		return cmp == 0
	}
}
