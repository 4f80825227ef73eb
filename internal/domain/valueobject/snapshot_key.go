package valueobject

import (
	"errors"
	"strings"
)

const (
	// SnapshotExtension добавляется к digest в имени объекта
	SnapshotExtension = ".jpg"

	// IndexArtifactKey - well-known ключ предвычисленного индекса
	IndexArtifactKey = "imgs.json"
)

// SnapshotKey - ключ объекта в хранилище вида "{source_id}/{digest}.jpg" (Value Object)
type SnapshotKey struct {
	sourceID string
	digest   ContentDigest
}

// BuildSnapshotKey собирает ключ из идентификатора источника и digest
func BuildSnapshotKey(sourceID string, digest ContentDigest) SnapshotKey {
	return SnapshotKey{sourceID: sourceID, digest: digest}
}

// ParseSnapshotKey разбирает ключ, прочитанный из хранилища
func ParseSnapshotKey(raw string) (SnapshotKey, error) {
	sourceID, filename, ok := strings.Cut(raw, "/")
	if !ok || sourceID == "" {
		return SnapshotKey{}, errors.New("snapshot key must contain source prefix")
	}
	if !strings.HasSuffix(filename, SnapshotExtension) {
		return SnapshotKey{}, errors.New("snapshot key must end with " + SnapshotExtension)
	}

	digest, err := ParseContentDigest(strings.TrimSuffix(filename, SnapshotExtension))
	if err != nil {
		return SnapshotKey{}, err
	}

	return SnapshotKey{sourceID: sourceID, digest: digest}, nil
}

// SourcePrefix возвращает префикс листинга для источника
func SourcePrefix(sourceID string) string {
	return sourceID + "/"
}

func (k SnapshotKey) SourceID() string {
	return k.sourceID
}

func (k SnapshotKey) Digest() ContentDigest {
	return k.digest
}

// String возвращает ключ в формате хранилища
func (k SnapshotKey) String() string {
	return SourcePrefix(k.sourceID) + k.digest.String() + SnapshotExtension
}
