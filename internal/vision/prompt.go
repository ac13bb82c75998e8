package vision

import (
	"fmt"
	"strings"

	"github.com/cookcard/ingest/pkg/platform"
)

const systemPrompt = `You watch cooking videos and list the ingredients that are shown or named.

Rules:
- Only list ingredients you can see or hear. Never guess ingredients a dish usually has.
- "evidence_phrase" describes where the ingredient appears, for example "on-screen text at 0:12" or "spoken: two cups of flour".
- Section labels such as "For the sauce" are not ingredients.
- Leave "amount" and "unit" empty when they are not shown or said.
- Do not write cooking steps.

Answer with JSON only:
{"ingredients":[{"name":"","amount":"","unit":"","evidence_phrase":"","group":"","confidence":0.0}]}`

func userPrompt(meta *platform.Metadata, res Resolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample the video at about %.1f frames per second.\n", res.FramesPerSecond())
	if t := strings.TrimSpace(meta.Title); t != "" {
		fmt.Fprintf(&b, "Title: %s\n", t)
	}
	if c := strings.TrimSpace(meta.Creator); c != "" {
		fmt.Fprintf(&b, "Creator: %s\n", c)
	}
	b.WriteString("List the ingredients used in this video.")
	return b.String()
}
