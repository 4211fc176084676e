package orchestrator

import (
	"fmt"
	"strings"
)

type messageKey int

const (
	msgConsentRequired messageKey = iota
	msgRateLimited
	msgInputBlocked
	msgApology
	msgCancelled
)

var catalog = map[string]map[messageKey]string{
	"hu": {
		msgConsentRequired: "A kérésed feldolgozásához szükségünk van a hozzájárulásodra. Kérjük, engedélyezd a funkcionális adatkezelést az adatvédelmi beállításokban, majd próbáld újra.",
		msgRateLimited:     "Túl sok kérést küldtél rövid időn belül. Kérjük, próbáld újra %d másodperc múlva.",
		msgInputBlocked:    "Az üzenetedet biztonsági okokból nem tudjuk feldolgozni. Kérjük, fogalmazd meg másképp.",
		msgApology:         "Elnézést, most nem tudok válaszolni a kérdésedre. Kérjük, próbáld újra később.",
		msgCancelled:       "A kérés feldolgozása megszakadt. Kérjük, próbáld újra.",
	},
	"en": {
		msgConsentRequired: "We need your consent to process this request. Please enable functional data processing in your privacy settings and try again.",
		msgRateLimited:     "You have sent too many requests. Please try again in %d seconds.",
		msgInputBlocked:    "Your message could not be processed for security reasons. Please rephrase it.",
		msgApology:         "Sorry, I cannot answer right now. Please try again later.",
		msgCancelled:       "Processing of your request was interrupted. Please try again.",
	},
}

// message returns the localized text for key. Unknown languages fall back to
// English.
func message(lang string, key messageKey, args ...any) string {
	msgs, ok := catalog[strings.ToLower(lang)]
	if !ok {
		msgs = catalog["en"]
	}
	text := msgs[key]
	if len(args) > 0 {
		text = fmt.Sprintf(text, args...)
	}
	return text
}
