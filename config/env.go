package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// DefaultEnvPrefix is the prefix of the environment variables read by ApplyEnv.
const DefaultEnvPrefix = "POST_"

// ApplyEnv overrides settings from environment variables named after the
// file keys: prefix "POST_" maps POST_ERROR_MODE to error_mode and so on.
// Unset variables leave the setting alone; set but unparseable ones are
// reported and skipped.
func (c *Config) ApplyEnv(prefix string) error {
	var errs error
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("toml")
		name := prefix + strings.ToUpper(key)
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(v.Field(i), strings.TrimSpace(raw)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

func setField(f reflect.Value, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := parseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	default:
		return fmt.Errorf("unsupported setting kind %s", f.Kind())
	}
	return nil
}

// parseBool accepts the spellings strconv does plus yes/no and on/off.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}
