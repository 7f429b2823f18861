package guard

import (
	"net/url"
	"path"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// Policy определяет платные ресурсы по шаблонам пути.
// В шаблоне * совпадает с любой последовательностью символов, включая "/".
type Policy struct {
	patterns []string
}

// NewPolicy создаёт политику из шаблонов. Пустые шаблоны пропускаются.
func NewPolicy(patterns []string) *Policy {
	p := &Policy{}
	for _, pattern := range patterns {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			p.patterns = append(p.patterns, pattern)
		}
	}
	return p
}

// RequiresEntitlement сообщает, нужен ли доступ по подписке для пути.
// Query и fragment не учитываются, путь декодируется и нормализуется перед сравнением.
// Путь с некорректным percent-кодированием считается платным.
func (p *Policy) RequiresEntitlement(requested string) bool {
	if p == nil || len(p.patterns) == 0 {
		return false
	}
	candidates, ok := normalize(requested)
	if !ok {
		return true
	}
	for _, clean := range candidates {
		for _, pattern := range p.patterns {
			if wildcard.Match(pattern, clean) {
				return true
			}
		}
	}
	return false
}

// normalize возвращает путь в исходном и декодированном виде.
// Proxy передаёт адрес без декодирования, а приложение за ним декодирует его
// перед обработкой, поэтому сравнивать нужно обе формы.
func normalize(requested string) ([]string, bool) {
	if i := strings.IndexAny(requested, "?#"); i >= 0 {
		requested = requested[:i]
	}
	decoded, err := url.PathUnescape(requested)
	if err != nil {
		return nil, false
	}
	raw := cleanPath(requested)
	if decoded == requested {
		return []string{raw}, true
	}
	return []string{raw, cleanPath(decoded)}, true
}

func cleanPath(requested string) string {
	if requested == "" {
		return "/"
	}
	if !strings.HasPrefix(requested, "/") {
		requested = "/" + requested
	}
	clean := path.Clean(requested)
	if strings.HasSuffix(requested, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}
