package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// 配置文件中的时间字段统一使用 "90s" / "3m" 这类字符串表示，
// 下面的自定义 UnmarshalJSON 负责转换。

func parseDurationField(name, value string, target *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", name, err)
	}
	*target = d
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout string `json:"page_timeout"`
		*Alias
	}{Alias: (*Alias)(b)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurationField("page_timeout", aux.PageTimeout, &b.PageTimeout)
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (f *FetchConfig) UnmarshalJSON(data []byte) error {
	type Alias FetchConfig
	aux := &struct {
		Timeout  string `json:"timeout"`
		MinDelay string `json:"min_delay"`
		MaxDelay string `json:"max_delay"`
		*Alias
	}{Alias: (*Alias)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("timeout", aux.Timeout, &f.Timeout); err != nil {
		return err
	}
	if err := parseDurationField("min_delay", aux.MinDelay, &f.MinDelay); err != nil {
		return err
	}
	return parseDurationField("max_delay", aux.MaxDelay, &f.MaxDelay)
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (s *SolverConfig) UnmarshalJSON(data []byte) error {
	type Alias SolverConfig
	aux := &struct {
		PollInterval string `json:"poll_interval"`
		Timeout      string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("poll_interval", aux.PollInterval, &s.PollInterval); err != nil {
		return err
	}
	return parseDurationField("timeout", aux.Timeout, &s.Timeout)
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (l *LifecycleConfig) UnmarshalJSON(data []byte) error {
	type Alias LifecycleConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(l)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurationField("timeout", aux.Timeout, &l.Timeout)
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (w *WatermarkConfig) UnmarshalJSON(data []byte) error {
	type Alias WatermarkConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(w)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurationField("timeout", aux.Timeout, &w.Timeout)
}
