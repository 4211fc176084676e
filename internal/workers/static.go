package workers

import (
	"context"
	"sort"
)

// DefaultGeneralReplies is the canned reply of the built-in general worker.
var DefaultGeneralReplies = map[string]string{
	"hu": "Szia! Miben segíthetek? Kérdezhetsz termékekről, rendelésekről, ajánlatokról vagy akciókról.",
	"en": "Hi! How can I help? You can ask about products, orders, recommendations or promotions.",
}

// StaticWorker answers every message with a localized canned reply.
type StaticWorker struct {
	replies map[string]string
}

func NewStaticWorker(replies map[string]string) *StaticWorker {
	copied := make(map[string]string, len(replies))
	for lang, text := range replies {
		copied[lang] = text
	}
	return &StaticWorker{replies: copied}
}

func (w *StaticWorker) Invoke(_ context.Context, _ string, deps Deps) (Result, error) {
	if text, ok := w.replies[deps.Language]; ok {
		return Result{Text: text, Confidence: 1}, nil
	}
	if text, ok := w.replies["en"]; ok {
		return Result{Text: text, Confidence: 1}, nil
	}
	langs := make([]string, 0, len(w.replies))
	for lang := range w.replies {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) == 0 {
		return Result{}, nil
	}
	return Result{Text: w.replies[langs[0]], Confidence: 1}, nil
}
