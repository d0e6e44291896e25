package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// ValueKind tags which payload of a Value is set.
type ValueKind string

const (
	ValueKindText    ValueKind = "text"
	ValueKindChoice  ValueKind = "choice"
	ValueKindChoices ValueKind = "choices"
	ValueKindNumber  ValueKind = "number"
	ValueKindDate    ValueKind = "date"
	ValueKindFile    ValueKind = "file"
)

// Value is a tagged variant holding one answer or one configured correct
// answer. Only the payload matching Kind is meaningful.
type Value struct {
	Kind    ValueKind  `json:"kind"`
	Text    string     `json:"text,omitempty"`
	Choices []string   `json:"choices,omitempty"`
	Number  *float64   `json:"number,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	FileURL string     `json:"file_url,omitempty"`
}

var ErrInvalidValue = errors.New("invalid_value")

func TextValue(s string) Value { return Value{Kind: ValueKindText, Text: s} }

func ChoiceValue(s string) Value { return Value{Kind: ValueKindChoice, Text: s} }

func ChoicesValue(items ...string) Value {
	return Value{Kind: ValueKindChoices, Choices: append([]string(nil), items...)}
}

func NumberValue(n float64) Value { return Value{Kind: ValueKindNumber, Number: &n} }

func DateValue(t time.Time) Value {
	t = t.UTC()
	return Value{Kind: ValueKindDate, Date: &t}
}

func FileValue(url string) Value { return Value{Kind: ValueKindFile, FileURL: url} }

// IsSet reports whether any payload kind was chosen.
func (v Value) IsSet() bool { return v.Kind != "" }

// IsEmpty reports whether the respondent left the answer blank.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case ValueKindText, ValueKindChoice:
		return strings.TrimSpace(v.Text) == ""
	case ValueKindChoices:
		for _, c := range v.Choices {
			if strings.TrimSpace(c) != "" {
				return false
			}
		}
		return true
	case ValueKindNumber:
		return v.Number == nil
	case ValueKindDate:
		return v.Date == nil
	case ValueKindFile:
		return strings.TrimSpace(v.FileURL) == ""
	default:
		return true
	}
}

// TextLength is the answer length in characters, used for cost heuristics.
func (v Value) TextLength() int {
	if v.Kind != ValueKindText {
		return 0
	}
	return utf8.RuneCountInString(v.Text)
}

// Set returns the distinct non-blank selections of a choice or choices value.
func (v Value) Set() map[string]struct{} {
	out := map[string]struct{}{}
	switch v.Kind {
	case ValueKindChoice:
		if s := strings.TrimSpace(v.Text); s != "" {
			out[s] = struct{}{}
		}
	case ValueKindChoices:
		for _, c := range v.Choices {
			if s := strings.TrimSpace(c); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

// String renders the value for prompts and logs.
func (v Value) String() string {
	switch v.Kind {
	case ValueKindText, ValueKindChoice:
		return v.Text
	case ValueKindChoices:
		items := append([]string(nil), v.Choices...)
		sort.Strings(items)
		return strings.Join(items, ", ")
	case ValueKindNumber:
		if v.Number == nil {
			return ""
		}
		return fmt.Sprintf("%g", *v.Number)
	case ValueKindDate:
		if v.Date == nil {
			return ""
		}
		return v.Date.Format(time.DateOnly)
	case ValueKindFile:
		return v.FileURL
	default:
		return ""
	}
}

// Scan implements sql.Scanner for JSON columns. NULL and empty columns
// scan to an unset value.
func (v *Value) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case []byte:
		if len(typed) == 0 {
			*v = Value{}
			return nil
		}
	case string:
		if typed == "" {
			*v = Value{}
			return nil
		}
	default:
		return fmt.Errorf("%w: unsupported column type %T", ErrInvalidValue, src)
	}
	var column datatypes.JSONType[Value]
	if err := column.Scan(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	*v = column.Data()
	return nil
}

// Value implements driver.Valuer. An unset value is stored as NULL.
func (v Value) Value() (driver.Value, error) {
	if v.Kind == "" {
		return nil, nil
	}
	return datatypes.NewJSONType(v).Value()
}

// GormDataType stores values as JSON.
func (Value) GormDataType() string { return "json" }
