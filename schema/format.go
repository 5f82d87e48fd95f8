package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"
	"unicode"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"
	"github.com/slongfield/pyfmt"
)

// FormatType 消息模板的格式化类型。
type FormatType uint8

const (
	// FString Python 风格的字符串格式化 (PEP-3101)。
	// 由 pyfmt 库实现。
	FString FormatType = 0
	// GoTemplate Go 标准库的 text/template 格式化。
	GoTemplate FormatType = 1
	// Jinja2 Jinja2 模板格式化。
	// 由 gonja 库实现。
	Jinja2 FormatType = 2
)

func (f FormatType) String() string {
	switch f {
	case FString:
		return "fstring"
	case GoTemplate:
		return "gotemplate"
	case Jinja2:
		return "jinja2"
	default:
		return fmt.Sprintf("FormatType(%d)", uint8(f))
	}
}

// TemplateError 模板渲染失败。
// Missing 非空时表示缺少槽位值，列出全部缺失的槽位名（已排序、去重）；
// 否则 Err 为底层模板引擎返回的错误。
type TemplateError struct {
	Missing []string
	Err     error
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template error: missing slot(s): %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template error: %v", e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// ExtractSlots 返回模板文本引用的槽位名，已排序、去重。
//
//	ExtractSlots("Explain {topic} in {n} sentences.", FString) // [n topic]
//	ExtractSlots("Hi {{.name}}", GoTemplate)                  // [name]
//	ExtractSlots("{% for x in items %}{{ x }}{% endfor %}", Jinja2) // [items]
func ExtractSlots(content string, formatType FormatType) ([]string, error) {
	var (
		names []string
		err   error
	)
	switch formatType {
	case FString:
		names, err = fstringSlots(content)
	case GoTemplate:
		names, err = goTemplateSlots(content)
	case Jinja2:
		names = jinjaSlots(content)
	default:
		return nil, fmt.Errorf("unknown format type: %v", formatType)
	}
	if err != nil {
		return nil, &TemplateError{Err: err}
	}

	return dedupSorted(names), nil
}

// MissingSlots 返回 slots 中不在 vs 里的名字，已排序、去重。
func MissingSlots(slots []string, vs map[string]any) []string {
	var missing []string
	for _, s := range slots {
		if _, ok := vs[s]; !ok {
			missing = append(missing, s)
		}
	}
	return dedupSorted(missing)
}

func dedupSorted(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

// formatContent 根据格式化类型格式化内容字符串。
// 缺失槽位先于模板引擎被检出，保证错误中列出全部缺失名。
func formatContent(content string, vs map[string]any, formatType FormatType) (string, error) {
	slots, err := ExtractSlots(content, formatType)
	if err != nil {
		return "", err
	}
	if missing := MissingSlots(slots, vs); len(missing) > 0 {
		return "", &TemplateError{Missing: missing}
	}

	out, err := render(content, vs, formatType)
	if err != nil {
		return "", &TemplateError{Err: err}
	}
	return out, nil
}

func render(content string, vs map[string]any, formatType FormatType) (string, error) {
	switch formatType {
	case FString:
		return pyfmt.Fmt(content, vs)
	case GoTemplate:
		parsedTmpl, err := template.New("template").
			Option("missingkey=error").
			Parse(content)
		if err != nil {
			return "", err
		}
		sb := new(strings.Builder)
		if err = parsedTmpl.Execute(sb, vs); err != nil {
			return "", err
		}
		return sb.String(), nil
	case Jinja2:
		env, err := getJinjaEnv()
		if err != nil {
			return "", err
		}
		tpl, err := env.FromString(content)
		if err != nil {
			return "", err
		}
		return tpl.Execute(vs)
	default:
		return "", fmt.Errorf("unknown format type: %v", formatType)
	}
}

// fstringSlots 扫描 {name} 形式的槽位。
// {{ 与 }} 为转义花括号；{name.attr}、{name[0]}、{name:spec}、{name!r} 取根名 name。
func fstringSlots(content string) ([]string, error) {
	var names []string
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '{':
			if i+1 < len(content) && content[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(content[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '{' at offset %d", i)
			}
			field := content[i+1 : i+1+end]
			if cut := strings.IndexAny(field, ".[:!"); cut >= 0 {
				field = field[:cut]
			}
			field = strings.TrimSpace(field)
			if field == "" {
				return nil, fmt.Errorf("positional slot at offset %d is not supported, use a named slot", i)
			}
			names = append(names, field)
			i += end + 1
		case '}':
			if i+1 < len(content) && content[i+1] == '}' {
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' at offset %d", i)
		}
	}
	return names, nil
}

// goTemplateSlots 收集顶层上下文中引用的字段名，range/with 块内的 . 已被重新绑定，不计入。
func goTemplateSlots(content string) ([]string, error) {
	tmpl, err := template.New("template").Parse(content)
	if err != nil {
		return nil, err
	}
	if tmpl.Tree == nil {
		return nil, nil
	}

	var names []string
	var walk func(n parse.Node, top bool)
	walk = func(n parse.Node, top bool) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c, top)
			}
		case *parse.ActionNode:
			walk(n.Pipe, top)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, c := range n.Cmds {
				walk(c, top)
			}
		case *parse.CommandNode:
			for _, a := range n.Args {
				walk(a, top)
			}
		case *parse.ChainNode:
			walk(n.Node, top)
		case *parse.FieldNode:
			if top && len(n.Ident) > 0 {
				names = append(names, n.Ident[0])
			}
		case *parse.VariableNode:
			// $ 始终指向根数据
			if len(n.Ident) > 1 && n.Ident[0] == "$" {
				names = append(names, n.Ident[1])
			}
		case *parse.IfNode:
			walk(n.Pipe, top)
			walk(n.List, top)
			walk(n.ElseList, top)
		case *parse.RangeNode:
			walk(n.Pipe, top)
			walk(n.List, false)
			walk(n.ElseList, top)
		case *parse.WithNode:
			walk(n.Pipe, top)
			walk(n.List, false)
			walk(n.ElseList, top)
		case *parse.TemplateNode:
			walk(n.Pipe, top)
		}
	}
	walk(tmpl.Tree.Root, true)

	return names, nil
}

var jinjaKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"if": true, "elif": true, "else": true, "endif": true,
	"for": true, "endfor": true, "set": true, "endset": true,
	"true": true, "false": true, "none": true, "True": true, "False": true, "None": true,
	"loop": true, "recursive": true, "with": true, "endwith": true,
	"raw": true, "endraw": true, "filter": true, "endfilter": true,
}

// jinjaSlots 返回 {{ }} 与 {% %} 中的自由变量：
// 排除属性访问、过滤器名、函数调用名、字面量与关键字。
// 名字只在绑定之后才算已绑定：set 绑定到所在作用域末尾，for 的循环变量到 endfor 为止。
func jinjaSlots(content string) []string {
	var (
		names  []string
		scopes = []map[string]bool{{}}
	)
	isBound := func(name string) bool {
		for _, sc := range scopes {
			if sc[name] {
				return true
			}
		}
		return false
	}
	collect := func(toks []jinjaToken) {
		for _, name := range freeIdents(toks) {
			if !isBound(name) {
				names = append(names, name)
			}
		}
	}

	for rest := content; ; {
		start := strings.IndexByte(rest, '{')
		if start < 0 || start+1 >= len(rest) {
			break
		}
		var closer string
		switch rest[start+1] {
		case '{':
			closer = "}}"
		case '%':
			closer = "%}"
		case '#':
			closer = "#}"
		default:
			rest = rest[start+1:]
			continue
		}
		body := rest[start+2:]
		end := strings.Index(body, closer)
		if end < 0 {
			break
		}
		expr := strings.Trim(body[:end], "-+ \t\r\n")
		rest = body[end+2:]

		if closer == "#}" {
			continue
		}
		toks := jinjaTokens(expr)
		if closer != "%}" || len(toks) == 0 {
			collect(toks)
			continue
		}

		switch toks[0].text {
		case "for":
			// for a, b in xs：xs 在外层作用域求值
			i := 1
			loopVars := map[string]bool{}
			for ; i < len(toks) && toks[i].text != "in"; i++ {
				if toks[i].ident {
					loopVars[toks[i].text] = true
				}
			}
			collect(toks[i:])
			scopes = append(scopes, loopVars)
		case "endfor":
			if len(scopes) > 1 {
				scopes = scopes[:len(scopes)-1]
			}
		case "set":
			// set x = expr：右侧先求值，之后 x 才可用
			if len(toks) > 2 {
				collect(toks[2:])
			}
			if len(toks) > 1 && toks[1].ident {
				scopes[len(scopes)-1][toks[1].text] = true
			}
		default:
			collect(toks)
		}
	}

	return names
}

type jinjaToken struct {
	text  string
	ident bool
}

func jinjaTokens(expr string) []jinjaToken {
	var toks []jinjaToken
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			toks = append(toks, jinjaToken{text: string(rs[i:min(j+1, len(rs))])})
			i = j + 1
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, jinjaToken{text: string(rs[i:j]), ident: true})
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, jinjaToken{text: string(rs[i:j])})
			i = j
		default:
			toks = append(toks, jinjaToken{text: string(r)})
			i++
		}
	}
	return toks
}

func freeIdents(toks []jinjaToken) []string {
	var names []string
	for i, t := range toks {
		if !t.ident || jinjaKeywords[t.text] {
			continue
		}
		if i > 0 {
			switch prev := toks[i-1].text; prev {
			case ".", "|", "is":
				continue
			}
		}
		if i+1 < len(toks) {
			switch toks[i+1].text {
			case "(", "=":
				continue
			}
		}
		names = append(names, t.text)
	}
	return names
}

var (
	jinjaEnvOnce sync.Once
	jinjaEnv     *gonja.Environment
	envInitErr   error
)

// jinja 中被禁用的语句，模板不得访问文件系统。
var disabledJinjaStatements = []string{"include", "extends", "import", "from"}

func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		jinjaEnv = gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, keyword := range disabledJinjaStatements {
			if !jinjaEnv.Statements.Exists(keyword) {
				continue
			}
			kw := keyword
			err := jinjaEnv.Statements.Replace(kw, func(*parser.Parser, *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", kw)
			})
			if err != nil {
				envInitErr = fmt.Errorf("init jinja env fail: %w", err)
				return
			}
		}
	})

	return jinjaEnv, envInitErr
}
