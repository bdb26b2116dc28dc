package repository

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"quill/internal/models"

	"gorm.io/gorm"
)

// Cursor is the decoded form of an opaque page token: the sort value and id
// of the last item on the previous page.
type Cursor struct {
	Value string `json:"v"`
	ID    string `json:"id"`
}

// EncodeCursor returns the opaque token for (value, id).
func EncodeCursor(value, id string) string {
	b, _ := json.Marshal(Cursor{Value: value, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, models.NewValidationError("invalid cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return nil, models.NewValidationError("invalid cursor")
	}
	return &c, nil
}

func timeCursor(t time.Time, id string) string {
	return EncodeCursor(t.UTC().Format(time.RFC3339Nano), id)
}

// sortKind tells keyset how to parse a cursor value.
type sortKind int

const (
	sortTime sortKind = iota
	sortInt
)

func (c *Cursor) typedValue(kind sortKind) (interface{}, error) {
	switch kind {
	case sortInt:
		n, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil {
			return nil, models.NewValidationError("invalid cursor")
		}
		return n, nil
	default:
		t, err := time.Parse(time.RFC3339Nano, c.Value)
		if err != nil {
			return nil, models.NewValidationError("invalid cursor")
		}
		return t.UTC(), nil
	}
}

// keyset orders q by (col, idCol) and, when c is set, restricts it to rows
// strictly after the cursor in that order.
func keyset(q *gorm.DB, col, idCol string, kind sortKind, desc bool, c *Cursor) (*gorm.DB, error) {
	dir, cmp := "ASC", ">"
	if desc {
		dir, cmp = "DESC", "<"
	}
	if c != nil {
		v, err := c.typedValue(kind)
		if err != nil {
			return nil, err
		}
		q = q.Where("(("+col+" "+cmp+" ?) OR ("+col+" = ? AND "+idCol+" "+cmp+" ?))", v, v, c.ID)
	}
	return q.Order(col + " " + dir).Order(idCol + " " + dir), nil
}
