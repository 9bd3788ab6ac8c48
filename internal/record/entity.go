package record

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Entities are plain structs. The table name is the struct type's name, and
// columns are derived from exported fields: a `db:"name"` tag wins,
// otherwise the field name is converted to snake_case. A field tagged
// `db:"-"` is ignored. Every entity must expose a string key column named
// "id" or "key".

type fieldInfo struct {
	index  int
	column string
}

type structInfo struct {
	table    string
	fields   []fieldInfo
	keyIndex int // index into fields, -1 when absent
}

var structCache sync.Map // reflect.Type -> *structInfo

// TableName returns the user table an entity maps to.
func TableName(v any) (string, error) {
	info, err := infoFor(v)
	if err != nil {
		return "", err
	}
	return info.table, nil
}

// Fields extracts an entity's columns in declaration order.
func Fields(v any) ([]Field, error) {
	info, err := infoFor(v)
	if err != nil {
		return nil, err
	}
	rv := derefValue(reflect.ValueOf(v))

	fields := make([]Field, 0, len(info.fields))
	for _, f := range info.fields {
		val, err := valueOf(rv.Field(f.index))
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", info.table, f.column, err)
		}
		fields = append(fields, Field{Name: f.column, Value: val})
	}
	return fields, nil
}

// Key returns the entity's primary key value, which may be empty.
func Key(v any) (string, error) {
	info, err := infoFor(v)
	if err != nil {
		return "", err
	}
	if info.keyIndex < 0 {
		return "", fmt.Errorf("entity %s has no id or key column", info.table)
	}
	rv := derefValue(reflect.ValueOf(v))
	f := rv.Field(info.fields[info.keyIndex].index)
	if f.Kind() != reflect.String {
		return "", fmt.Errorf("entity %s: key column must be a string", info.table)
	}
	return f.String(), nil
}

// KeyColumn returns the name of the entity's key column.
func KeyColumn(v any) (string, error) {
	info, err := infoFor(v)
	if err != nil {
		return "", err
	}
	if info.keyIndex < 0 {
		return "", fmt.Errorf("entity %s has no id or key column", info.table)
	}
	return info.fields[info.keyIndex].column, nil
}

// SetKey writes the primary key into an entity. v must be a pointer.
func SetKey(v any, key string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("SetKey requires a non-nil pointer, got %T", v)
	}
	info, err := infoFor(v)
	if err != nil {
		return err
	}
	if info.keyIndex < 0 {
		return fmt.Errorf("entity %s has no id or key column", info.table)
	}
	f := rv.Elem().Field(info.fields[info.keyIndex].index)
	if f.Kind() != reflect.String || !f.CanSet() {
		return fmt.Errorf("entity %s: key column must be a settable string", info.table)
	}
	f.SetString(key)
	return nil
}

// Scan populates an entity from a row of column name to driver value.
// Columns absent from the struct are ignored; struct fields absent from the
// row keep their zero value.
func Scan(v any, row map[string]any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("Scan requires a non-nil pointer, got %T", v)
	}
	info, err := infoFor(v)
	if err != nil {
		return err
	}
	elem := rv.Elem()
	for _, f := range info.fields {
		raw, ok := row[f.column]
		if !ok {
			continue
		}
		if err := setField(elem.Field(f.index), raw); err != nil {
			return fmt.Errorf("scan %s.%s: %w", info.table, f.column, err)
		}
	}
	return nil
}

func infoFor(v any) (*structInfo, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %T", v)
	}
	if cached, ok := structCache.Load(t); ok {
		return cached.(*structInfo), nil
	}

	info := &structInfo{table: t.Name(), keyIndex: -1}
	if info.table == "" {
		return nil, fmt.Errorf("anonymous struct types cannot be entities")
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		column := sf.Tag.Get("db")
		if column == "-" {
			continue
		}
		if column == "" {
			column = snakeCase(sf.Name)
		}
		if column == "id" || column == "key" {
			info.keyIndex = len(info.fields)
		}
		info.fields = append(info.fields, fieldInfo{index: i, column: column})
	}

	structCache.Store(t, info)
	return info, nil
}

func derefValue(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv
}

func valueOf(f reflect.Value) (Value, error) {
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return Null{}, nil
		}
		return valueOf(f.Elem())
	}
	switch f.Kind() {
	case reflect.String:
		return Text(f.String()), nil
	case reflect.Bool:
		return Bool(f.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(f.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(int64(f.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Real(f.Float()), nil
	case reflect.Slice:
		if f.Type().Elem().Kind() == reflect.Uint8 {
			if f.IsNil() {
				return Null{}, nil
			}
			return Blob(f.Bytes()), nil
		}
	case reflect.Struct:
		if t, ok := f.Interface().(time.Time); ok {
			return Text(t.Format(time.RFC3339Nano)), nil
		}
	}
	return nil, fmt.Errorf("unsupported field type %s", f.Type())
}

func setField(f reflect.Value, raw any) error {
	if raw == nil {
		f.SetZero()
		return nil
	}
	if f.Kind() == reflect.Pointer {
		p := reflect.New(f.Type().Elem())
		if err := setField(p.Elem(), raw); err != nil {
			return err
		}
		f.Set(p)
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		switch t := raw.(type) {
		case string:
			f.SetString(t)
		case []byte:
			f.SetString(string(t))
		default:
			return fmt.Errorf("cannot assign %T to string", raw)
		}
	case reflect.Bool:
		switch t := raw.(type) {
		case bool:
			f.SetBool(t)
		case int64:
			f.SetBool(t != 0)
		default:
			return fmt.Errorf("cannot assign %T to bool", raw)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch t := raw.(type) {
		case int64:
			f.SetInt(t)
		case float64:
			f.SetInt(int64(t))
		default:
			return fmt.Errorf("cannot assign %T to %s", raw, f.Type())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch t := raw.(type) {
		case int64:
			f.SetUint(uint64(t))
		default:
			return fmt.Errorf("cannot assign %T to %s", raw, f.Type())
		}
	case reflect.Float32, reflect.Float64:
		switch t := raw.(type) {
		case float64:
			f.SetFloat(t)
		case int64:
			f.SetFloat(float64(t))
		default:
			return fmt.Errorf("cannot assign %T to %s", raw, f.Type())
		}
	case reflect.Slice:
		if f.Type().Elem().Kind() == reflect.Uint8 {
			switch t := raw.(type) {
			case []byte:
				b := make([]byte, len(t))
				copy(b, t)
				f.SetBytes(b)
			case string:
				f.SetBytes([]byte(t))
			default:
				return fmt.Errorf("cannot assign %T to []byte", raw)
			}
			return nil
		}
		return fmt.Errorf("unsupported slice type %s", f.Type())
	case reflect.Struct:
		if f.Type() == reflect.TypeOf(time.Time{}) {
			switch t := raw.(type) {
			case time.Time:
				f.Set(reflect.ValueOf(t))
			case string:
				parsed, err := time.Parse(time.RFC3339Nano, t)
				if err != nil {
					return fmt.Errorf("parse time: %w", err)
				}
				f.Set(reflect.ValueOf(parsed))
			default:
				return fmt.Errorf("cannot assign %T to time.Time", raw)
			}
			return nil
		}
		return fmt.Errorf("unsupported struct type %s", f.Type())
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
