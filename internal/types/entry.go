package types

import "fmt"

// Entry is a single stream record: the server-assigned ID and its fields.
type Entry struct {
	ID     string
	Fields map[string]string
}

// NewEntry converts the loosely typed values returned by the driver into
// string fields.
func NewEntry(id string, values map[string]interface{}) Entry {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []byte:
			fields[k] = string(val)
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return Entry{ID: id, Fields: fields}
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{id=%s, fields=%v}", e.ID, e.Fields)
}
