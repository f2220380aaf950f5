package app

import (
	"bytes"
	"strings"
	"text/template"
	"text/template/parse"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/currency"
	"wetmill_sms/internal/domain/locale"
	"wetmill_sms/internal/infra/observability"
)

// blankFunc ends every printing action so a missing or nil value prints nothing.
const blankFunc = "or_blank"

// Renderer renders stored message templates. A template that fails to parse
// or execute is returned verbatim so delivery is never blocked by it.
type Renderer struct {
	loc    *time.Location
	logger *logrus.Entry
	funcs  template.FuncMap
}

func NewRenderer(loc *time.Location, logger *logrus.Entry) *Renderer {
	r := &Renderer{loc: loc, logger: logger}
	r.funcs = sprig.TxtFuncMap()
	for name, fn := range r.localeFuncs() {
		r.funcs[name] = fn
	}
	return r
}

func (r *Renderer) Render(text string, vars map[string]any) string {
	tmpl, err := template.New("message").Funcs(r.funcs).Parse(text)
	if err != nil {
		return r.fallback(text, err)
	}
	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			blankMissing(t.Tree, t.Tree.Root)
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return r.fallback(text, err)
	}
	return buf.String()
}

// blankMissing pipes the result of every printing action through blankFunc.
// Assignments print nothing and are left alone.
func blankMissing(tree *parse.Tree, list *parse.ListNode) {
	if list == nil {
		return
	}
	for _, node := range list.Nodes {
		switch n := node.(type) {
		case *parse.ActionNode:
			if len(n.Pipe.Decl) > 0 {
				continue
			}
			n.Pipe.Cmds = append(n.Pipe.Cmds, &parse.CommandNode{
				NodeType: parse.NodeCommand,
				Pos:      n.Pos,
				Args:     []parse.Node{parse.NewIdentifier(blankFunc).SetTree(tree).SetPos(n.Pos)},
			})
		case *parse.IfNode:
			blankMissing(tree, n.List)
			blankMissing(tree, n.ElseList)
		case *parse.RangeNode:
			blankMissing(tree, n.List)
			blankMissing(tree, n.ElseList)
		case *parse.WithNode:
			blankMissing(tree, n.List)
			blankMissing(tree, n.ElseList)
		}
	}
}

func (r *Renderer) fallback(text string, err error) string {
	observability.RenderFallbacks.Inc()
	r.logger.WithError(err).Debug("Template render failed, sending raw text")
	return text
}

// Value-last argument order so filters chain: {{ .price | format_currency .currency }}.
func (r *Renderer) localeFuncs() template.FuncMap {
	return template.FuncMap{
		"format_currency": func(c any, value any) string {
			return formatCurrency(c, value, false)
		},
		"format_currency_rounded": func(c any, value any) string {
			return formatCurrency(c, value, true)
		},
		"format_int": func(value any) string {
			d, ok := toDecimal(value)
			if !ok {
				return "-"
			}
			return locale.FormatInt(d)
		},
		"format_percent": func(value any) string {
			d, ok := toDecimal(value)
			if !ok {
				return "-"
			}
			return locale.FormatPercent(d)
		},
		"format_kilos": func(value any) string {
			d, ok := toDecimal(value)
			if !ok {
				return "-"
			}
			return locale.FormatKilos(d)
		},
		"format_tons": func(value any) string {
			d, ok := toDecimal(value)
			if !ok {
				return "-"
			}
			return locale.FormatTons(d)
		},
		"format_weight": func(w locale.Weight, value any) string {
			d, ok := toDecimal(value)
			if !ok {
				return ""
			}
			return w.Format(d, true, false)
		},
		"format_phone": func(c *locale.Country, phone string) string {
			if c == nil {
				return phone
			}
			return locale.FormatPhone(c.PhoneFormat, phone)
		},
		"local_timezone": func(t time.Time) string {
			return t.In(r.loc).Format("Jan _2 2006, 15:04")
		},
		"as_local": func(v currency.Value) any {
			local := v.AsLocal()
			if !local.Valid {
				return nil
			}
			return local.Decimal
		},
		// {{ .working_capital | as_usd .exchange_rate }}
		"as_usd": func(rate any, v currency.Value) (any, error) {
			var nr decimal.NullDecimal
			if d, ok := toDecimal(rate); ok {
				nr = decimal.NewNullDecimal(d)
			}
			usd, err := v.AsUSD(nr)
			if err != nil || !usd.Valid {
				return nil, err
			}
			return usd.Decimal.RoundBank(2), nil
		},
		"cv_mul": currency.Mul,
		"cv_div": currency.Div,
		blankFunc: func(v any) any {
			if v == nil {
				return ""
			}
			return v
		},
	}
}

func formatCurrency(c any, value any, forceEven bool) string {
	d, ok := toDecimal(value)
	if !ok {
		return "-"
	}
	switch cur := c.(type) {
	case locale.Currency:
		return cur.Format(d, forceEven)
	case *locale.Currency:
		if cur != nil {
			return cur.Format(d, forceEven)
		}
	}
	return d.String()
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Decimal{}, false
		}
		return *v, true
	case decimal.NullDecimal:
		return v.Decimal, v.Valid
	case currency.Value:
		local := v.AsLocal()
		return local.Decimal, local.Valid
	case *currency.Value:
		if v == nil {
			return decimal.Decimal{}, false
		}
		local := v.AsLocal()
		return local.Decimal, local.Valid
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}
