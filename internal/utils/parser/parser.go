package parser

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// QueryError reports a query parameter that could not be converted to its
// field type. Handlers map it to 400.
type QueryError struct {
	Param string
	Value string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query parameter %s=%q: %v", e.Param, e.Value, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ParseQuery binds the query string to a struct using the `form` tag. A
// `default` tag supplies the value when the parameter is absent or empty.
//
//	type listQuery struct {
//		Term  string `form:"term"`
//		Limit int    `form:"limit" default:"50"`
//	}
func ParseQuery(c *fiber.Ctx, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("output must be a pointer to a struct")
	}

	elem := val.Elem()
	typ := elem.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("form")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			continue
		}

		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := setFieldValue(elem.Field(i), raw); err != nil {
			return &QueryError{Param: name, Value: raw, Err: err}
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
