package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PhotoList 是存成 JSON 列的有序图片链接列表。
type PhotoList []string

// Value 实现 driver.Valuer。
func (p PhotoList) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(p))
	if err != nil {
		return nil, fmt.Errorf("marshal photo list: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (p *PhotoList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported photo list column type %T", value)
	}
	if len(data) == 0 {
		*p = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal photo list: %w", err)
	}
	*p = out
	return nil
}
