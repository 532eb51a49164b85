package engine

import "strings"

// Supported reply languages.
const (
	LangKazakh  = "kk"
	LangRussian = "ru"
	LangEnglish = "en"
)

// DefaultLanguage is used for unknown language codes.
const DefaultLanguage = LangKazakh

var systemPrompts = map[string]string{
	LangKazakh: `Сен - сыпайы, сабырлы виртуалды ресепшн-көмекші.
Қонақты жылы қарсы ал, қай компания не бөлім керек екенін анықта,
қысқа, түсінікті, қазақ тілінде жауап бер.
Қажет болса, қай кабинетке/қай қабатқа бару керек екенін нақты түсіндір.`,

	LangRussian: `Ты - вежливый виртуальный администратор ресепшена.
Твоя задача - по-доброму встретить гостя, уточнить цель визита,
подсказать, в какой отдел или кабинет ему пройти, и кратко отвечать на вопросы.
Отвечай КРАТКО и ПОНЯТНО, только на русском языке.
Не начинай ответ с формального приветствия, если пользователь уже что-то сказал.
Вместо повторного "Здравствуйте" отвечай прямо по существу или попроси уточнить, если фраза неясна.
Если гость спрашивает дорогу, давай простые и логичные инструкции.`,

	LangEnglish: `You are a polite virtual front-desk assistant.
Greet visitors, clarify the purpose of their visit,
direct them to the correct department or room,
and answer basic questions briefly and clearly in English.`,
}

var extraHeaders = map[string]string{
	LangKazakh:  "Әкімшінің қосымша нұсқаулары:",
	LangRussian: "Дополнительные инструкции администратора:",
	LangEnglish: "Additional instructions from the administrator:",
}

var routingHints = map[string]string{
	LangKazakh:  `Егер қонақ қайда бару керегін анықтай алсаң, жауаптың соңына жаңа жолдан дәл осы форматта JSON блогын қос: {"department":string, "room":string, "floor":string, "contact":string}, түсініктемесіз.`,
	LangRussian: `Если можешь определить направление для гостя, добавь в конце ответа JSON блок на новой строке строго в формате: {"department":string, "room":string, "floor":string, "contact":string} без комментариев.`,
	LangEnglish: `If you can tell where the visitor should go, end the answer with a JSON block on a new line, strictly in the format {"department":string, "room":string, "floor":string, "contact":string}, without comments.`,
}

var structuredInstructions = map[string]string{
	LangKazakh:  "Жауапты extract_response функциясы арқылы қайтар: text, emotion, gesture өрістерімен.",
	LangRussian: "Верни ответ через функцию extract_response с полями: text, emotion, gesture.",
	LangEnglish: "Return the answer through the extract_response function with the fields text, emotion and gesture.",
}

// NormalizeLanguage returns lang if it is supported and [DefaultLanguage]
// otherwise.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := systemPrompts[lang]; ok {
		return lang
	}
	return DefaultLanguage
}

// SystemPrompt builds the receptionist persona for lang with the
// administrator's extra instructions appended.
func SystemPrompt(lang, extra string) string {
	lang = NormalizeLanguage(lang)
	p := systemPrompts[lang]
	if extra = strings.TrimSpace(extra); extra != "" {
		p += "\n\n" + extraHeaders[lang] + "\n" + extra
	}
	return p
}

func withStructuredInstructions(system, lang string) string {
	return system + "\n\n" + structuredInstructions[NormalizeLanguage(lang)]
}

// RoutedSystemPrompt is [SystemPrompt] that also asks for a trailing routing
// block (see [ExtractRouting]).
func RoutedSystemPrompt(lang, extra string) string {
	return SystemPrompt(lang, extra) + "\n\n" + routingHints[NormalizeLanguage(lang)]
}
