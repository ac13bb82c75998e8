package extract

import "strings"

const systemPrompt = `You extract recipe ingredients from social media captions, comments and transcripts.

Rules:
- Only list ingredients that are written in the text. Never infer, complete or guess.
- For every ingredient copy "evidence_phrase" verbatim from the text: the shortest span that names the ingredient and its quantity if one is given.
- Section labels such as "Ingredients", "For the sauce" or "Topping" are not ingredients. Use them as "group" on the ingredients listed under them.
- "steps" may only contain instructions copied verbatim from the text. Leave it empty when the text has no instructions. Never write your own.
- "amount" and "unit" are empty strings when the text gives none.
- "confidence" is between 0 and 1.

Answer with JSON only:
{"ingredients":[{"name":"","amount":"","unit":"","evidence_phrase":"","group":"","confidence":0.0}],"steps":[""]}`

func userMessage(text string) string {
	var b strings.Builder
	b.WriteString("Extract the ingredients from this text.\n\n<text>\n")
	b.WriteString(text)
	b.WriteString("\n</text>")
	return b.String()
}
