package banking

import (
	"fmt"
	"time"
)

// record_helpers.go centralizes the small type coercions every *_from_record
// function needs because encoding/json decodes numbers as float64 and we
// persist Record as map[string]interface{}.

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func asStringPtr(v interface{}) *string {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", v)
	}
}

func asInt32(v interface{}) (int32, error) {
	i, err := asInt64(v)
	return int32(i), err
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v interface{}) (time.Time, error) {
	s := asString(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func asTimePtr(v interface{}) (*time.Time, error) {
	s := asString(v)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeToRecord(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrToRecord(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeToRecord(*t)
}

func dateToRecord(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func asDate(v interface{}) (time.Time, error) {
	s := asString(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func asDatePtr(v interface{}) (*time.Time, error) {
	s := asString(v)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func datePtrToRecord(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dateToRecord(*t)
}
