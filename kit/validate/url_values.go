package validate

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// decodeURLValues copies values into the struct pointed to by dst.
// Keys come from the `form` tag, then the `json` tag, then the field
// name. Nested structs read dotted keys ("address.city").
func decodeURLValues(values url.Values, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	elem := v.Elem()
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("destination must be a pointer to a struct")
	}
	return decodeStruct(elem, values, "")
}

func decodeStruct(v reflect.Value, values url.Values, prefix string) error {
	t := v.Type()
	for i := range v.NumField() {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Anonymous && fv.Kind() == reflect.Struct {
			if err := decodeStruct(fv, values, prefix); err != nil {
				return err
			}
			continue
		}

		key, skip := fieldKey(field)
		if skip {
			continue
		}
		key = prefix + key

		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			if err := decodeStruct(fv, values, key+"."); err != nil {
				return err
			}
			continue
		}

		raw, ok := values[key]
		if !ok || len(raw) == 0 {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

func fieldKey(field reflect.StructField) (string, bool) {
	for _, tagName := range []string{"form", "json"} {
		tag, ok := field.Tag.Lookup(tagName)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", true
		}
		if name != "" {
			return name, false
		}
	}
	return field.Name, false
}

func setField(field reflect.Value, raw []string) error {
	switch field.Kind() {
	case reflect.Pointer:
		if raw[0] == "" {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return setScalar(field.Elem(), raw[0])
	case reflect.Slice:
		slice := reflect.MakeSlice(field.Type(), len(raw), len(raw))
		for i, s := range raw {
			elem := slice.Index(i)
			if elem.Kind() == reflect.Pointer {
				elem.Set(reflect.New(elem.Type().Elem()))
				elem = elem.Elem()
			}
			if err := setScalar(elem, s); err != nil {
				return err
			}
		}
		field.Set(slice)
		return nil
	default:
		return setScalar(field, raw[0])
	}
}

func setScalar(field reflect.Value, s string) error {
	// Empty strings leave non-pointer fields at their zero value.
	if s == "" {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
