package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

const redactedValue = "***"

// String returns the full configuration as a formatted string. Credentials embedded in
// redis.url are always masked.
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c.masked()).Elem(), reflect.Value{}, "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
func (c *Config) Redacted(secrets *Config) string {
	if secrets == nil {
		return c.String()
	}
	return formatStruct(reflect.ValueOf(c.masked()).Elem(), reflect.ValueOf(secrets).Elem(), "")
}

func (c *Config) masked() *Config {
	out := *c
	out.Redis.URL = redactURL(c.Redis.URL)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), redactedValue)
	}
	return u.String()
}

// formatStruct renders v as indented key/value lines. When mask is valid, any leaf field
// that is set in mask prints as redacted.
func formatStruct(v, mask reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		fieldName := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			sb.WriteString(formatStruct(value, maskValue, prefix+"  "))
		case reflect.Slice:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: []\n", prefix, fieldName))
				continue
			}
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			for j := 0; j < value.Len(); j++ {
				elem := value.Index(j)
				if elem.Kind() == reflect.Struct {
					sb.WriteString(fmt.Sprintf("%s  -\n", prefix))
					sb.WriteString(formatStruct(elem, reflect.Value{}, prefix+"    "))
					continue
				}
				sb.WriteString(fmt.Sprintf("%s  - %v\n", prefix, elem.Interface()))
			}
		default:
			displayValue := value.Interface()
			if shouldRedact(maskValue) {
				displayValue = redactedValue
			}
			sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, fieldName, displayValue))
		}
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	default:
		return false
	}
}
