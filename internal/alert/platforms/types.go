package platforms

import "context"

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Message struct {
	Kind      string
	Title     string
	Content   string
	Color     int
	Timestamp string
	Footer    string
	Fields    []Field
}

type Adapter interface {
	Name() string
	Send(ctx context.Context, endpoint, secret string, msg Message) error
}
