package config

import (
	"time"

	"github.com/spf13/pflag"
)

// MockConfigHook implements config.Hook. Unset mocks return zero values,
// except the OrElse getters which return their fallback.
type MockConfigHook struct {
	GetStringMock         func(key string) string
	GetBoolMock           func(key string) bool
	GetIntMock            func(key string) int
	GetIntOrElseMock      func(key string, orElse int) int
	GetDurationOrElseMock func(key string, orElse time.Duration) time.Duration
	SaveMock              func() error
	BindFlagMock          func(string, *pflag.Flag) error
	GetProfileMock        func() string
	GetStringSliceMock    func(key string) []string
	SetStringMock         func(k string, v string)
	SetMock               func(k string, v any)
	GetMock               func(k string) any
	GetPathMock           func() string
}

func (m *MockConfigHook) Save() error {
	if m.SaveMock == nil {
		return nil
	}
	return m.SaveMock()
}

func (m *MockConfigHook) GetString(key string) string {
	if m.GetStringMock == nil {
		return ""
	}
	return m.GetStringMock(key)
}

func (m *MockConfigHook) GetBool(key string) bool {
	if m.GetBoolMock == nil {
		return false
	}
	return m.GetBoolMock(key)
}

func (m *MockConfigHook) GetInt(key string) int {
	if m.GetIntMock == nil {
		return 0
	}
	return m.GetIntMock(key)
}

func (m *MockConfigHook) GetIntOrElse(key string, orElse int) int {
	if m.GetIntOrElseMock != nil {
		return m.GetIntOrElseMock(key, orElse)
	}
	return orElse
}

func (m *MockConfigHook) GetDurationOrElse(key string, orElse time.Duration) time.Duration {
	if m.GetDurationOrElseMock != nil {
		return m.GetDurationOrElseMock(key, orElse)
	}
	return orElse
}

func (m *MockConfigHook) BindFlag(configPath string, f *pflag.Flag) error {
	if m.BindFlagMock == nil {
		return nil
	}
	return m.BindFlagMock(configPath, f)
}

func (m *MockConfigHook) GetProfile() string {
	if m.GetProfileMock == nil {
		return "default"
	}
	return m.GetProfileMock()
}

func (m *MockConfigHook) GetStringSlice(key string) []string {
	if m.GetStringSliceMock == nil {
		return nil
	}
	return m.GetStringSliceMock(key)
}

func (m *MockConfigHook) SetString(k string, v string) {
	if m.SetStringMock != nil {
		m.SetStringMock(k, v)
	}
}

func (m *MockConfigHook) Set(k string, v any) {
	if m.SetMock != nil {
		m.SetMock(k, v)
	}
}

func (m *MockConfigHook) Get(k string) any {
	if m.GetMock == nil {
		return nil
	}
	return m.GetMock(k)
}

func (m *MockConfigHook) GetPath() string {
	if m.GetPathMock == nil {
		return ""
	}
	return m.GetPathMock()
}

// Values returns a hook backed by a map of string values.
func Values(values map[string]string) *MockConfigHook {
	return &MockConfigHook{
		GetStringMock: func(key string) string { return values[key] },
		GetBoolMock:   func(key string) bool { return values[key] == "true" },
	}
}
