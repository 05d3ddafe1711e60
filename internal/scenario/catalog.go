package scenario

import "github.com/kuitang/textile-e2e/internal/driver"

// AppTitle is the document title every Textile page carries.
const AppTitle = "Textile V2.1"

// Catalog returns the built-in Textile scenarios. Relative URLs resolve
// against the runner's base URL.
func Catalog() []Scenario {
	return []Scenario{home(), fabric(), fabricCreate()}
}

func home() Scenario {
	return Scenario{
		Name:        "home",
		Description: "Home page shows the company heading",
		Tags:        []string{"smoke"},
		Steps: []Step{
			Navigate("/"),
			ReadTitle("title"),
			Locate("heading", driver.ByID, "title"),
			ReadText("heading", "heading"),
		},
		Assertions: []Assertion{
			{Name: "page title", Observation: "title", Expected: AppTitle},
			{Name: "heading", Observation: "heading", Expected: "Sobre a empresa"},
		},
	}
}

func fabric() Scenario {
	return Scenario{
		Name:        "fabric",
		Description: "Fabric list page shows its heading",
		Tags:        []string{"smoke"},
		Steps: []Step{
			Navigate("/fabric"),
			ReadTitle("title"),
			Locate("heading", driver.ByID, "title"),
			ReadText("heading", "heading"),
		},
		Assertions: []Assertion{
			{Name: "page title", Observation: "title", Expected: AppTitle},
			{Name: "heading", Observation: "heading", Expected: "Tecido"},
		},
	}
}

// fabricCreate walks the navigation bar, fills the new-fabric form, drags
// across the modal backdrop, saves, cancels back to the list and checks the
// "Novo" link is still there.
func fabricCreate() Scenario {
	field := func(n string) string { return ".field:nth-child(" + n + ") .input" }

	var steps []Step
	add := func(s ...Step) { steps = append(steps, s...) }
	clickLink := func(text string) {
		add(Locate("link", driver.ByLinkText, text), Click("link"))
	}
	clickCSS := func(alias, css string) {
		add(Locate(alias, driver.ByCSS, css), Click(alias))
	}

	add(Navigate("/"))
	clickLink("Tecidos")
	clickLink("Sobre")
	clickLink("Tecidos")
	clickLink("Novo")

	clickCSS("name", field("1"))
	add(SendKeys("name", "Teste"))
	clickCSS("manufacturer", field("2"))
	add(SendKeys("manufacturer", "Fabricante"))

	add(Locate("backdrop", driver.ByCSS, ".modal-background"))
	add(Drag("backdrop", "backdrop")...)
	clickCSS("modal", ".modal")

	add(Locate("width", driver.ByCSS, field("3")), SendKeys("width", "1800"))
	clickCSS("code", field("4"))
	add(SendKeys("code", "uhvuererf"))

	clickCSS("save", ".is-success")
	clickCSS("save", ".is-success")

	clickLink("Cancelar")
	clickLink("Tecidos")

	add(Locate("new", driver.ByLinkText, "Novo"), ReadText("new", "new_link"))

	return Scenario{
		Name:        "fabric-create",
		Description: "Create a fabric through the modal form, cancel and return to the list",
		Viewport:    &driver.Viewport{Width: 1920, Height: 1048},
		Steps:       steps,
		Assertions: []Assertion{
			{Name: "new link", Observation: "new_link", Expected: "Novo"},
		},
	}
}
