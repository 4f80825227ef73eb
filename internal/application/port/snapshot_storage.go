package port

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound возвращается GetObject, если ключ отсутствует.
var ErrObjectNotFound = errors.New("object not found")

// StorageOp names the storage call that failed.
type StorageOp string

const (
	StorageOpPut  StorageOp = "put"
	StorageOpGet  StorageOp = "get"
	StorageOpList StorageOp = "list"
)

// StorageError wraps a backend failure with the operation and key/prefix it concerned.
type StorageError struct {
	Op  StorageOp
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ObjectInfo описывает объект из листинга хранилища.
type ObjectInfo struct {
	Key        string
	UploadedAt time.Time
	Size       int64
}

// ObjectPage - одна страница листинга и курсор следующей (пустой, если страниц больше нет).
type ObjectPage struct {
	Objects    []ObjectInfo
	NextCursor string
}

// PutOptions задает HTTP-метаданные записываемого объекта.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// SnapshotStorage определяет интерфейс объектного хранилища снимков.
type SnapshotStorage interface {
	// PutObject записывает объект целиком.
	PutObject(ctx context.Context, key string, body []byte, opts PutOptions) error

	// GetObject читает объект; ErrObjectNotFound, если его нет.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// ListPage возвращает одну страницу объектов под prefix, начиная с cursor.
	ListPage(ctx context.Context, prefix, cursor string) (ObjectPage, error)
}
