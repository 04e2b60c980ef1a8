package engine

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/scriptbridge/internal/markup"
)

func (c *Context) elements(found []markup.Element) goja.Value {
	out := make([]any, 0, len(found))
	for _, e := range found {
		attrs := c.vm.NewObject()
		for k, v := range e.Attrs {
			_ = attrs.Set(k, v)
		}
		out = append(out, c.newObject(map[string]any{
			"tag":   e.Tag,
			"text":  e.Text,
			"html":  e.HTML,
			"attrs": attrs,
		}))
	}
	return c.vm.NewArray(out...)
}

// htmlNamespace queries documents fetched with net.sendRequest. Parse and
// query errors throw.
func (c *Context) htmlNamespace() *goja.Object {
	return c.newObject(map[string]any{
		"select": func(src, selector string) goja.Value {
			found, err := markup.Select(src, selector)
			if err != nil {
				c.throw("%v", err)
			}
			return c.elements(found)
		},
		"xpath": func(src, expr string) goja.Value {
			found, err := markup.XPath(src, expr)
			if err != nil {
				c.throw("%v", err)
			}
			return c.elements(found)
		},
		"text": func(src string) string {
			text, err := markup.Text(src)
			if err != nil {
				c.throw("%v", err)
			}
			return text
		},
		"sanitize": markup.Sanitize,
		"charset": func(data string) string {
			return markup.DetectCharset([]byte(data))
		},
	})
}
