package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

const maxPageBytes = 2 << 20

// WebClient reads Open Graph metadata and schema.org Recipe JSON-LD from
// ordinary web pages.
type WebClient struct {
	rest    *resty.Client
	limiter *AdaptiveLimiter
}

// NewWebClient creates a WebClient. hc may be nil.
func NewWebClient(timeout time.Duration, hc *http.Client) *WebClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rc := newRestClient("", timeout, hc).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &WebClient{rest: rc, limiter: NewAdaptiveLimiter("web", 5, 5)}
}

// Fetch downloads the page and extracts its metadata. Recipe ingredient and
// instruction lines found in JSON-LD are appended to the description so the
// text ladder can read them as creator-provided evidence.
func (c *WebClient) Fetch(ctx context.Context, pageURL string) (*Metadata, error) {
	resp, err := get(ctx, "web", c.rest, c.limiter, pageURL, nil)
	if err != nil {
		return nil, err
	}
	body := resp.Body()
	if len(body) > maxPageBytes {
		body = body[:maxPageBytes]
	}

	page, err := parsePage(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "platform: parse page")
	}

	meta := &Metadata{
		Platform:     Web,
		URL:          pageURL,
		Title:        firstNonEmpty(page.meta["og:title"], page.meta["twitter:title"], page.title, page.recipe.name),
		Description:  firstNonEmpty(page.meta["og:description"], page.meta["description"], page.meta["twitter:description"], page.recipe.description),
		Creator:      firstNonEmpty(page.meta["author"], page.recipe.author, page.meta["og:site_name"]),
		ThumbnailURL: firstNonEmpty(page.meta["og:image"], page.meta["twitter:image"]),
	}
	if block := page.recipe.text(); block != "" {
		if meta.Description != "" {
			meta.Description += "\n\n"
		}
		meta.Description += block
	}
	return meta, nil
}

type parsedPage struct {
	title  string
	meta   map[string]string
	recipe recipeLD
}

func parsePage(r io.Reader) (*parsedPage, error) {
	page := &parsedPage{meta: make(map[string]string)}
	z := html.NewTokenizer(r)

	inTitle, inLD := false, false
	var ld strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return page, nil
			}
			return page, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = page.title == ""
			case "meta":
				key, content := metaPair(tok)
				if key != "" && content != "" {
					if _, seen := page.meta[key]; !seen {
						page.meta[key] = content
					}
				}
			case "script":
				if attr(tok, "type") == "application/ld+json" {
					inLD = true
					ld.Reset()
				}
			}
		case html.TextToken:
			switch {
			case inTitle:
				page.title = strings.TrimSpace(html.UnescapeString(string(z.Text())))
			case inLD:
				ld.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "script":
				if inLD {
					inLD = false
					if page.recipe.empty() {
						page.recipe = findRecipe([]byte(ld.String()))
					}
				}
			}
		}
	}
}

func metaPair(tok html.Token) (string, string) {
	key := attr(tok, "property")
	if key == "" {
		key = attr(tok, "name")
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(attr(tok, "content"))
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// recipeLD is the subset of a schema.org Recipe that carries source text.
type recipeLD struct {
	name         string
	description  string
	author       string
	ingredients  []string
	instructions []string
}

func (r recipeLD) empty() bool {
	return len(r.ingredients) == 0 && len(r.instructions) == 0
}

func (r recipeLD) text() string {
	if r.empty() {
		return ""
	}
	var b strings.Builder
	if len(r.ingredients) > 0 {
		b.WriteString("Ingredients:\n")
		for _, ing := range r.ingredients {
			b.WriteString("- " + ing + "\n")
		}
	}
	if len(r.instructions) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Instructions:\n")
		for _, s := range r.instructions {
			b.WriteString(s + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// findRecipe walks arbitrary JSON-LD (object, array or @graph) for the
// first node typed Recipe.
func findRecipe(raw []byte) recipeLD {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return recipeLD{}
	}
	node := findRecipeNode(doc)
	if node == nil {
		return recipeLD{}
	}
	return recipeLD{
		name:         str(node["name"]),
		description:  str(node["description"]),
		author:       authorName(node["author"]),
		ingredients:  strList(node["recipeIngredient"]),
		instructions: instructionList(node["recipeInstructions"]),
	}
}

func findRecipeNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := findRecipeNode(item); n != nil {
				return n
			}
		}
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return t
		}
		if g, ok := t["@graph"]; ok {
			return findRecipeNode(g)
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Recipe"
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok && s == "Recipe" {
				return true
			}
		}
	}
	return false
}

func instructionList(v any) []string {
	switch t := v.(type) {
	case string:
		return nonEmptyLines(t)
	case []any:
		var out []string
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, nonEmptyLines(s)...)
			case map[string]any:
				if steps, ok := s["itemListElement"]; ok {
					out = append(out, instructionList(steps)...)
					continue
				}
				if txt := str(s["text"]); txt != "" {
					out = append(out, txt)
				}
			}
		}
		return out
	}
	return nil
}

func authorName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return str(t["name"])
	case []any:
		if len(t) > 0 {
			return authorName(t[0])
		}
	}
	return ""
}

func strList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := str(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(html.UnescapeString(s))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
