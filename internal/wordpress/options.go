package wordpress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/elliotchance/phpserialize"
	"github.com/go-sql-driver/mysql"
)

// mysqlNoSuchTable is ER_NO_SUCH_TABLE.
const mysqlNoSuchTable = 1146

// PHPArray is a decoded serialized PHP array. Indexed arrays have int64 keys.
type PHPArray map[any]any

// DecodePHPArray decodes a serialized option value. An empty value is an
// empty array.
func DecodePHPArray(raw string) (PHPArray, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PHPArray{}, nil
	}
	m, err := phpserialize.UnmarshalAssociativeArray([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode php array: %w", err)
	}
	return PHPArray(m), nil
}

func (a PHPArray) keys() []any {
	keys := make([]any, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ki, iInt := keys[i].(int64)
		kj, jInt := keys[j].(int64)
		switch {
		case iInt && jInt:
			return ki < kj
		case iInt != jInt:
			return iInt
		default:
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		}
	})
	return keys
}

// Values returns the values in key order: integer keys first.
func (a PHPArray) Values() []any {
	out := make([]any, 0, len(a))
	for _, k := range a.keys() {
		out = append(out, a[k])
	}
	return out
}

// Strings returns the scalar values in key order.
func (a PHPArray) Strings() []string {
	var out []string
	for _, v := range a.Values() {
		if s, ok := scalar(v); ok {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether any scalar value equals s.
func (a PHPArray) Contains(s string) bool {
	for _, v := range a.Strings() {
		if v == s {
			return true
		}
	}
	return false
}

// String returns the scalar under key, or "".
func (a PHPArray) String(key string) string {
	s, _ := scalar(a[key])
	return s
}

// Arrays returns the nested arrays in key order, skipping scalars.
func (a PHPArray) Arrays() []PHPArray {
	var out []PHPArray
	for _, v := range a.Values() {
		if m, ok := v.(map[any]any); ok {
			out = append(out, PHPArray(m))
		}
	}
	return out
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int:
		return strconv.Itoa(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		if x {
			return "1", true
		}
		return "", true
	default:
		return "", false
	}
}

// OptionArray reads and decodes a serialized array option. A missing
// option is an empty array.
func (d *DB) OptionArray(ctx context.Context, name string) (PHPArray, error) {
	raw, _, err := d.Option(ctx, name)
	if err != nil {
		return nil, err
	}
	a, err := DecodePHPArray(raw)
	if err != nil {
		return nil, fmt.Errorf("option %s: %w", name, err)
	}
	return a, nil
}

// WAFStatus returns the Wordfence firewall status ("enabled",
// "learning-mode", "disabled") when Wordfence keeps its WAF config in the
// database. It returns "" when that table does not exist.
func (d *DB) WAFStatus(ctx context.Context) (string, error) {
	q := "SELECT val FROM " + d.table("wfwafconfig") + " WHERE name = 'wafStatus' LIMIT 1"
	var raw []byte
	err := d.db.QueryRowContext(ctx, q).Scan(&raw)
	var myErr *mysql.MySQLError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case errors.As(err, &myErr) && myErr.Number == mysqlNoSuchTable:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("waf status: %w", err)
	}
	v := string(raw)
	if strings.HasPrefix(v, "s:") {
		var s string
		if err := phpserialize.Unmarshal(raw, &s); err == nil {
			v = s
		}
	}
	return strings.TrimSpace(v), nil
}
