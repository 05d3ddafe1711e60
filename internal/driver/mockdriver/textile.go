package mockdriver

import (
	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/urlutil"
)

// TextileTitle is the document title of every Textile page.
const TextileTitle = "Textile V2.1"

// Textile returns a driver scripted with the Textile pages the catalog
// scenarios visit, rooted at baseURL. It backs dry runs.
func Textile(baseURL string) *Driver {
	abs := func(path string) string { return urlutil.BuildAbsolute(baseURL, path) }
	nav := func(elems map[Key]Element) map[Key]Element {
		elems[Key{driver.ByLinkText, "Sobre"}] = Element{Text: "Sobre", Href: abs("/"), Attributes: map[string]string{"href": "/"}}
		elems[Key{driver.ByLinkText, "Tecidos"}] = Element{Text: "Tecidos", Href: abs("/fabric"), Attributes: map[string]string{"href": "/fabric"}}
		elems[Key{driver.ByLinkText, "Mesas de corte"}] = Element{Text: "Mesas de corte", Href: abs("/cutting-table"), Attributes: map[string]string{"href": "/cutting-table"}}
		elems[Key{driver.ByLinkText, "Cortes"}] = Element{Text: "Cortes", Href: abs("/fabric-cut"), Attributes: map[string]string{"href": "/fabric-cut"}}
		elems[Key{driver.ByID, "navbar"}] = Element{}
		return elems
	}
	field := func(n string) Key { return Key{driver.ByCSS, ".field:nth-child(" + n + ") .input"} }

	d := New()
	d.AddPage(abs("/"), Page{
		Title: TextileTitle,
		Elements: nav(map[Key]Element{
			{driver.ByID, "title"}: {Text: "Sobre a empresa", Attributes: map[string]string{"class": "title is-2"}},
		}),
	})
	d.AddPage(abs("/fabric"), Page{
		Title: TextileTitle,
		Elements: nav(map[Key]Element{
			{driver.ByID, "title"}:      {Text: "Tecido", Attributes: map[string]string{"class": "title is-2"}},
			{driver.ByLinkText, "Novo"}: {Text: "Novo", Href: abs("/fabric/new"), Attributes: map[string]string{"href": "/fabric/new"}},
		}),
	})
	d.AddPage(abs("/fabric/new"), Page{
		Title: TextileTitle,
		Elements: nav(map[Key]Element{
			{driver.ByID, "title"}:              {Text: "Novo tecido"},
			field("1"):                          {Attributes: map[string]string{"name": "name"}},
			field("2"):                          {Attributes: map[string]string{"name": "manufacturer"}},
			field("3"):                          {Attributes: map[string]string{"name": "width"}},
			field("4"):                          {Attributes: map[string]string{"name": "code"}},
			{driver.ByCSS, ".modal-background"}: {},
			{driver.ByCSS, ".modal"}:            {},
			{driver.ByCSS, ".is-success"}:       {Text: "Salvar"},
			{driver.ByLinkText, "Cancelar"}:     {Text: "Cancelar", Href: abs("/fabric"), Attributes: map[string]string{"href": "/fabric"}},
		}),
	})
	d.AddPage(abs("/cutting-table"), Page{Title: TextileTitle, Elements: nav(map[Key]Element{
		{driver.ByID, "title"}: {Text: "Mesas de corte"},
	})})
	d.AddPage(abs("/fabric-cut"), Page{Title: TextileTitle, Elements: nav(map[Key]Element{
		{driver.ByID, "title"}: {Text: "Cortes"},
	})})
	return d
}
