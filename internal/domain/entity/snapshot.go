package entity

import "time"

// Capture - результат одной успешной загрузки изображения
// Живет только в рамках одного запуска pipeline
type Capture struct {
	SourceID  string
	Data      []byte
	FetchedAt time.Time
}

// StoredSnapshot описывает объект, сохраненный в хранилище
// Объекты иммутабельны: ключ определяется содержимым
type StoredSnapshot struct {
	Key        string
	UploadedAt time.Time
	Size       int64
}
