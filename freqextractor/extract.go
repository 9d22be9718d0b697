// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package freqextractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TaskName is the task handler the orchestrator dispatches keyword
// extraction subtasks to.
const TaskName = "keyword_extraction.extract"

const (
	defaultTopK      = 10
	defaultMinLength = 3
)

// ErrNoText is returned when the task input carries no text
var ErrNoText = errors.New("input has no text")

var englishStopwords = map[string]struct{}{
	"about": {}, "after": {}, "all": {}, "also": {}, "and": {}, "any": {}, "are": {},
	"because": {}, "been": {}, "before": {}, "but": {}, "can": {}, "could": {}, "did": {},
	"does": {}, "each": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"her": {}, "him": {}, "his": {}, "how": {}, "into": {}, "its": {}, "just": {},
	"more": {}, "most": {}, "not": {}, "now": {}, "only": {}, "other": {}, "our": {},
	"out": {}, "over": {}, "she": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "through": {}, "very": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {}, "will": {},
	"with": {}, "would": {}, "you": {}, "your": {},
}

// Options tune one extraction
type Options struct {
	TopK      int      `json:"top_k"`
	MinLength int      `json:"min_length"`
	Stopwords []string `json:"stopwords"`
}

// Keyword is one extracted term
type Keyword struct {
	Keyword string  `json:"keyword"`
	Count   int     `json:"count"`
	Score   float64 `json:"score"`
}

// Result is the task output
type Result struct {
	Keywords    []Keyword `json:"keywords"`
	TotalTokens int       `json:"total_tokens"`
}

// Extract ranks the terms of text by frequency. Score is the share of
// counted tokens a term accounts for; ties are broken alphabetically.
func Extract(text string, opts Options) Result {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MinLength <= 0 {
		opts.MinLength = defaultMinLength
	}
	extra := make(map[string]struct{}, len(opts.Stopwords))
	for _, w := range opts.Stopwords {
		extra[strings.ToLower(w)] = struct{}{}
	}

	counts := make(map[string]int)
	total := 0
	for _, tok := range tokenize(text) {
		if utf8.RuneCountInString(tok) < opts.MinLength || isNumeric(tok) {
			continue
		}
		if _, stop := englishStopwords[tok]; stop {
			continue
		}
		if _, stop := extra[tok]; stop {
			continue
		}
		counts[tok]++
		total++
	}

	keywords := make([]Keyword, 0, len(counts))
	for term, n := range counts {
		keywords = append(keywords, Keyword{Keyword: term, Count: n, Score: float64(n) / float64(total)})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Count != keywords[j].Count {
			return keywords[i].Count > keywords[j].Count
		}
		return keywords[i].Keyword < keywords[j].Keyword
	})
	if len(keywords) > opts.TopK {
		keywords = keywords[:opts.TopK]
	}
	return Result{Keywords: keywords, TotalTokens: total}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(strings.ToLower(f), "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// textFromKwargs finds the text to analyse. A language modeling output in
// "upstream" takes precedence over the raw input when it carries text.
func textFromKwargs(kwargs map[string]interface{}) (string, error) {
	if upstream, ok := kwargs["upstream"].(map[string]interface{}); ok {
		if text := textOf(upstream["language_modeling"]); text != "" {
			return text, nil
		}
	}
	if text := textOf(kwargs["input"]); text != "" {
		return text, nil
	}
	return "", ErrNoText
}

func textOf(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		for _, key := range []string{"text", "content"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
		if turns, ok := t["turns"].([]interface{}); ok {
			parts := make([]string, 0, len(turns))
			for _, turn := range turns {
				if s := textOf(turn); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// optionsFromKwargs reads the method parameters forwarded by the orchestrator
func optionsFromKwargs(kwargs map[string]interface{}) (Options, error) {
	params := make(map[string]interface{}, 3)
	for _, key := range []string{"top_k", "min_length", "stopwords"} {
		if v, ok := kwargs[key]; ok {
			params[key] = v
		}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Options{}, err
	}
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("invalid parameters: %w", err)
	}
	if opts.TopK < 0 || opts.MinLength < 0 {
		return Options{}, fmt.Errorf("invalid parameters: top_k and min_length must not be negative")
	}
	return opts, nil
}
