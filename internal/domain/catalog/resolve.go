package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const minFuzzyWord = 4

// Resolve сопоставляет свободное описание проблемы с видом ремонта.
// Сначала точное вхождение slug/названия/синонима, затем нечёткое сравнение по словам.
func Resolve(types []RepairType, text string) (RepairType, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" || len(types) == 0 {
		return RepairType{}, false
	}

	for _, t := range types {
		if strings.EqualFold(norm, t.Slug) || strings.EqualFold(norm, t.Name) {
			return t, true
		}
	}

	// длинные фразы проверяем первыми: «замена экрана» точнее «экран»
	best, bestLen := -1, 0
	for i, t := range types {
		for _, phrase := range phrases(t) {
			if strings.Contains(norm, phrase) && len(phrase) > bestLen {
				best, bestLen = i, len(phrase)
			}
		}
	}
	if best >= 0 {
		return types[best], true
	}

	return fuzzyResolve(types, words(norm))
}

func fuzzyResolve(types []RepairType, words []string) (RepairType, bool) {
	var (
		targets []string
		owner   []int
	)
	for i, t := range types {
		for _, p := range phrases(t) {
			for _, w := range strings.Fields(p) {
				if utf8.RuneCountInString(w) >= minFuzzyWord {
					targets = append(targets, w)
					owner = append(owner, i)
				}
			}
		}
	}

	best, bestDist := -1, 0
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if n < minFuzzyWord {
			continue
		}
		limit := 1
		if n > 6 {
			limit = 2
		}

		// пропущенные буквы: слово пользователя — подпоследовательность синонима
		for _, r := range fuzzy.RankFindNormalizedFold(w, targets) {
			if r.Distance <= limit && (best < 0 || r.Distance < bestDist) {
				best, bestDist = owner[r.OriginalIndex], r.Distance
			}
		}
		// опечатки и перестановки
		for i, target := range targets {
			d := fuzzy.LevenshteinDistance(w, target)
			if d <= limit && (best < 0 || d < bestDist) {
				best, bestDist = owner[i], d
			}
		}
	}
	if best < 0 {
		return RepairType{}, false
	}
	return types[best], true
}

func phrases(t RepairType) []string {
	out := make([]string, 0, len(t.Synonyms)+1)
	if t.Name != "" {
		out = append(out, strings.ToLower(t.Name))
	}
	for _, s := range t.Synonyms {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
