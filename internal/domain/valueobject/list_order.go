package valueobject

import "errors"

// ListOrder задает порядок объектов в листинге (Value Object)
type ListOrder string

const (
	NewestFirst ListOrder = "newest_first"
	OldestFirst ListOrder = "oldest_first"
)

// Validate проверяет валидность порядка
func (o ListOrder) Validate() error {
	switch o {
	case NewestFirst, OldestFirst:
		return nil
	default:
		return errors.New("invalid list order")
	}
}

func (o ListOrder) String() string {
	return string(o)
}
