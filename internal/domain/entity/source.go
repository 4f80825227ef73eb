package entity

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var sourceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Source представляет внешний источник изображений (камеру)
// Иммутабелен, идентичность определяется id
type Source struct {
	id  string
	url string
}

// NewSource создает источник с валидацией
func NewSource(id, rawURL string) (Source, error) {
	id = strings.TrimSpace(id)
	if !sourceIDRegex.MatchString(id) {
		return Source{}, errors.New("invalid source id")
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Source{}, errors.New("source url must be an absolute http(s) url")
	}

	return Source{id: id, url: parsed.String()}, nil
}

// ID возвращает идентификатор источника
func (s Source) ID() string {
	return s.id
}

// URL возвращает адрес изображения
func (s Source) URL() string {
	return s.url
}
