// Package merge binds a runtime data tree into a document template. The
// directive language covers field substitution, iteration, conditionals with
// else, inline expressions, and image embedding:
//
//	{{Account.Name}}            field substitution
//	{{#each Items as it}} ... {{/each}}
//	{{#if expr}} ... {{else}} ... {{/if}}
//	{{= expr}}                  inline expression
//	{{img Account.LogoUrl}}     image embedding
//
// Directives split across text runs by the editor are fused before parsing.
package merge

import (
	"context"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/core/service/merge/docx"
)

// Engine implements the merge contract over zipped document packages.
type Engine struct {
	expressionTimeout time.Duration
	httpClient        *http.Client
}

func NewEngine(expressionTimeout time.Duration) *Engine {
	return &Engine{
		expressionTimeout: expressionTimeout,
		httpClient:        newImageHTTPClient(),
	}
}

// Merge renders the document part and every header and footer of the
// template against data, returning the rebuilt package.
func (e *Engine) Merge(ctx context.Context, templateBytes []byte, data map[string]any, opts port.MergeOptions) ([]byte, error) {
	pkg, err := docx.Open(templateBytes)
	if err != nil {
		return nil, err
	}

	state := &renderState{
		pkg:       pkg,
		scope:     newScope(data),
		locale:    parseLocale(opts.Locale),
		timezone:  parseTimezone(opts.Timezone),
		allowlist: opts.ImageAllowlist,
	}

	for _, name := range pkg.PartNames() {
		if !renderablePart(name) {
			continue
		}
		content, _ := pkg.Part(name)
		rendered, err := e.renderPart(ctx, state, name, string(content))
		if err != nil {
			return nil, err
		}
		pkg.SetPart(name, []byte(rendered))
	}
	return pkg.Bytes()
}

func renderablePart(name string) bool {
	if name == docx.DocumentPart {
		return true
	}
	base := path.Base(name)
	return path.Dir(name) == "word" &&
		(strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")) &&
		strings.HasSuffix(base, ".xml")
}

type renderState struct {
	pkg       *docx.Package
	scope     *scope
	locale    language.Tag
	timezone  *time.Location
	allowlist []string
	images    int
}

func (e *Engine) renderPart(ctx context.Context, state *renderState, partName, content string) (string, error) {
	normalized := normalizeRuns(content)
	nodes, err := parseTemplate(normalized)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := e.renderNodes(ctx, state, partName, nodes, state.scope, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// --- run normalization ---

var (
	xmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	entityFixer   = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'",
		"“", `"`, "”", `"`, "‘", "'", "’", "'",
	)
)

// normalizeRuns fuses directives the editor split across runs by stripping
// markup between {{ and }}, and undoes entity and smart-quote mangling
// inside the directive.
func normalizeRuns(doc string) string {
	var out strings.Builder
	for i := 0; i < len(doc); {
		open := strings.Index(doc[i:], "{{")
		if open < 0 {
			out.WriteString(doc[i:])
			break
		}
		open += i
		out.WriteString(doc[i:open])

		closing := strings.Index(doc[open:], "}}")
		if closing < 0 {
			out.WriteString(doc[open:])
			break
		}
		end := open + closing + 2
		span := xmlTagPattern.ReplaceAllString(doc[open:end], "")
		out.WriteString(entityFixer.Replace(span))
		i = end
	}
	return out.String()
}

// --- parsing ---

type node any

type textNode string

type fieldNode struct{ path string }

type exprNode struct{ src string }

type imgNode struct{ path string }

type eachNode struct {
	path    string
	varName string
	body    []node
}

type ifNode struct {
	cond string
	then []node
	alt  []node
}

var directivePattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

type token struct {
	start, end int
	body       string
}

func scanTokens(doc string) []token {
	matches := directivePattern.FindAllStringSubmatchIndex(doc, -1)
	tokens := make([]token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, token{
			start: m[0],
			end:   m[1],
			body:  strings.TrimSpace(doc[m[2]:m[3]]),
		})
	}
	return tokens
}

func structural(body string) bool {
	return strings.HasPrefix(body, "#each") || body == "/each" ||
		strings.HasPrefix(body, "#if") || body == "else" || body == "/if"
}

// widenStructural grows a block marker's span to swallow the enclosing
// paragraph, cell, or row when the marker is its only content, so repeated
// or dropped regions stay structurally valid.
func widenStructural(doc string, tokens []token) {
	for i := range tokens {
		if !structural(tokens[i].body) {
			continue
		}
		start, end := tokens[i].start, tokens[i].end
		for _, el := range []string{"w:p", "w:tc", "w:tr"} {
			s, ee, ok := enclosingElement(doc, start, end, el)
			if !ok {
				break
			}
			if textContent(doc[s:ee]) != textContent(doc[start:end]) {
				break
			}
			start, end = s, ee
		}
		tokens[i].start, tokens[i].end = start, end
	}
}

func enclosingElement(doc string, start, end int, el string) (int, int, bool) {
	openIdx := -1
	for i := start; i >= 0; {
		idx := strings.LastIndex(doc[:i], "<"+el)
		if idx < 0 {
			return 0, 0, false
		}
		after := doc[idx+len(el)+1]
		if after == ' ' || after == '>' {
			openIdx = idx
			break
		}
		i = idx
	}
	closeTag := "</" + el + ">"
	closeIdx := strings.Index(doc[end:], closeTag)
	if openIdx < 0 || closeIdx < 0 {
		return 0, 0, false
	}
	// A nested same-name element between the marker and the candidate close
	// means the candidate belongs to the inner element.
	if inner := strings.Index(doc[end:end+closeIdx], "<"+el); inner >= 0 {
		return 0, 0, false
	}
	return openIdx, end + closeIdx + len(closeTag), true
}

func textContent(fragment string) string {
	return strings.TrimSpace(xmlTagPattern.ReplaceAllString(fragment, ""))
}

func parseTemplate(doc string) ([]node, error) {
	tokens := scanTokens(doc)
	widenStructural(doc, tokens)

	type frame struct {
		kind  string // "", "each", "if", "else"
		open  token
		nodes []node
		then  []node
	}
	stack := []*frame{{}}
	top := func() *frame { return stack[len(stack)-1] }

	pos := 0
	emitText := func(upto int) {
		if upto > pos {
			top().nodes = append(top().nodes, textNode(doc[pos:upto]))
		}
	}

	for _, tk := range tokens {
		if tk.start < pos {
			// Overlapping widened spans: markers shared a paragraph.
			return nil, entity.NewError(entity.KindTemplateInvalid, "block markers overlap near %q", tk.body)
		}
		emitText(tk.start)
		pos = tk.end

		switch {
		case strings.HasPrefix(tk.body, "#each "):
			path, varName := parseEachHeader(tk.body)
			if path == "" {
				return nil, entity.NewError(entity.KindTemplateInvalid, "malformed iteration directive %q", tk.body)
			}
			stack = append(stack, &frame{kind: "each", open: token{body: path + "\x00" + varName}})
		case tk.body == "/each":
			if top().kind != "each" {
				return nil, entity.NewError(entity.KindTemplateInvalid, "unexpected {{/each}}")
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parts := strings.SplitN(f.open.body, "\x00", 2)
			top().nodes = append(top().nodes, &eachNode{path: parts[0], varName: parts[1], body: f.nodes})
		case strings.HasPrefix(tk.body, "#if "):
			stack = append(stack, &frame{kind: "if", open: token{body: strings.TrimSpace(tk.body[len("#if "):])}})
		case tk.body == "else":
			if top().kind != "if" {
				return nil, entity.NewError(entity.KindTemplateInvalid, "unexpected {{else}}")
			}
			f := top()
			f.kind = "else"
			f.then = f.nodes
			f.nodes = nil
		case tk.body == "/if":
			if top().kind != "if" && top().kind != "else" {
				return nil, entity.NewError(entity.KindTemplateInvalid, "unexpected {{/if}}")
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			n := &ifNode{cond: f.open.body}
			if f.kind == "else" {
				n.then, n.alt = f.then, f.nodes
			} else {
				n.then = f.nodes
			}
			top().nodes = append(top().nodes, n)
		case strings.HasPrefix(tk.body, "= "):
			top().nodes = append(top().nodes, &exprNode{src: strings.TrimSpace(tk.body[2:])})
		case strings.HasPrefix(tk.body, "img "):
			top().nodes = append(top().nodes, &imgNode{path: strings.TrimSpace(tk.body[4:])})
		case tk.body == "":
			// Empty directive renders nothing.
		case strings.HasPrefix(tk.body, "#"), strings.HasPrefix(tk.body, "/"):
			return nil, entity.NewError(entity.KindTemplateInvalid, "unknown block directive %q", tk.body)
		default:
			top().nodes = append(top().nodes, &fieldNode{path: tk.body})
		}
	}
	emitText(len(doc))

	if len(stack) != 1 {
		return nil, entity.NewError(entity.KindTemplateInvalid, "unclosed block directive")
	}
	return top().nodes, nil
}

func parseEachHeader(body string) (string, string) {
	rest := strings.TrimSpace(body[len("#each "):])
	if idx := strings.Index(rest, " as "); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+4:])
	}
	return rest, ""
}

// --- rendering ---

func (e *Engine) renderNodes(ctx context.Context, state *renderState, partName string, nodes []node, sc *scope, out *strings.Builder) error {
	for _, n := range nodes {
		switch nd := n.(type) {
		case textNode:
			out.WriteString(string(nd))
		case *fieldNode:
			out.WriteString(xmlEscape(e.renderField(state, sc, nd.path)))
		case *exprNode:
			value, err := evaluate(ctx, nd.src, sc.env(), e.expressionTimeout)
			if err != nil {
				return err
			}
			out.WriteString(xmlEscape(formatValue(value, state.locale, state.timezone)))
		case *imgNode:
			ref, _ := sc.lookup(nd.path).(string)
			if ref == "" {
				continue
			}
			state.images++
			fragment, err := e.renderImage(ctx, state.pkg, partName, ref, state.allowlist, state.images)
			if err != nil {
				return err
			}
			out.WriteString(fragment)
		case *eachNode:
			if err := e.renderEach(ctx, state, partName, nd, sc, out); err != nil {
				return err
			}
		case *ifNode:
			value, err := evaluate(ctx, nd.cond, sc.env(), e.expressionTimeout)
			if err != nil {
				return err
			}
			branch := nd.then
			if !truthy(value) {
				branch = nd.alt
			}
			if err := e.renderNodes(ctx, state, partName, branch, sc, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderField resolves a substitution. A path whose last segment carries the
// pre-formatted suffix returns the stored string verbatim.
func (e *Engine) renderField(state *renderState, sc *scope, fieldPath string) string {
	value := sc.lookup(fieldPath)
	if strings.HasSuffix(fieldPath, "__formatted") {
		s, _ := value.(string)
		return s
	}
	return formatValue(value, state.locale, state.timezone)
}

func (e *Engine) renderEach(ctx context.Context, state *renderState, partName string, nd *eachNode, sc *scope, out *strings.Builder) error {
	items, _ := sc.lookup(nd.path).([]any)
	for i, item := range items {
		vars := map[string]any{"this": item, "index": i}
		if obj, ok := item.(map[string]any); ok {
			for k, v := range obj {
				vars[k] = v
			}
		}
		if nd.varName != "" {
			vars[nd.varName] = item
		}
		if err := e.renderNodes(ctx, state, partName, nd.body, sc.child(vars), out); err != nil {
			return err
		}
	}
	return nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}
