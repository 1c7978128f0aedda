package pricing

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

const (
	wildcard         = "%"
	maxPatternLength = 200
)

// normalize приводит строку к виду для сравнения: casefold + схлопнутые пробелы.
func normalize(s string) string {
	// cases.Caser не потокобезопасен — создаём на каждый вызов
	folded := cases.Fold().String(s)
	return strings.Join(strings.Fields(folded), " ")
}

// modelPattern — скомпилированный шаблон модели.
// Без % — поиск подстроки; с % — SQL LIKE с якорями по краям.
type modelPattern struct {
	raw      string
	segments []string
	like     bool
}

// compilePattern: пустой шаблон или только из % — nil (любая модель).
func compilePattern(raw string) (*modelPattern, error) {
	if utf8.RuneCountInString(raw) > maxPatternLength {
		return nil, fmt.Errorf("model pattern longer than %d characters", maxPatternLength)
	}
	for _, r := range raw {
		if unicode.IsControl(r) {
			return nil, fmt.Errorf("model pattern %q contains control characters", raw)
		}
	}

	norm := normalize(raw)
	if strings.Trim(norm, wildcard+" ") == "" {
		return nil, nil
	}

	if !strings.Contains(norm, wildcard) {
		return &modelPattern{raw: raw, segments: []string{norm}}, nil
	}
	return &modelPattern{raw: raw, segments: strings.Split(norm, wildcard), like: true}, nil
}

func (p *modelPattern) match(model string) bool {
	if p == nil {
		return true
	}
	m := normalize(model)
	if m == "" {
		return false
	}
	if !p.like {
		return strings.Contains(m, p.segments[0])
	}

	first, last := p.segments[0], p.segments[len(p.segments)-1]
	if !strings.HasPrefix(m, first) {
		return false
	}
	m = m[len(first):]

	for _, seg := range p.segments[1 : len(p.segments)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(m, seg)
		if i < 0 {
			return false
		}
		m = m[i+len(seg):]
	}
	return strings.HasSuffix(m, last)
}
