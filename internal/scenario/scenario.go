// Package scenario defines the declarative scenario model: an ordered list of
// navigate / locate / interact / read steps plus expected-value assertions.
package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
)

// Kind tags a Step variant.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindLocate   Kind = "locate"
	KindInteract Kind = "interact"
	KindRead     Kind = "read"
)

// Action is an interaction performed on a located element.
type Action string

const (
	ActionClick    Action = "click"
	ActionSendKeys Action = "send_keys"
	ActionPress    Action = "press"
	ActionMoveTo   Action = "move_to"
	ActionRelease  Action = "release"
)

// Property is a value a read step observes.
type Property string

const (
	Title     Property = "title"
	URL       Property = "url"
	Text      Property = "text"
	Attribute Property = "attribute"
)

// Step is one remote operation. Which fields apply depends on Kind:
//
//	navigate  URL
//	locate    Strategy, Selector, As (alias later steps refer to)
//	interact  Action, Target, Text (send_keys only)
//	read      Property, Target (text/attribute), Name (attribute), Into
type Step struct {
	Kind Kind

	URL string

	Strategy driver.Strategy
	Selector string
	As       string

	Action Action
	Target string
	Text   string

	Property Property
	Name     string
	Into     string
}

// Navigate loads url, resolved against the scenario base URL when relative.
func Navigate(url string) Step {
	return Step{Kind: KindNavigate, URL: url}
}

// Locate finds an element and binds it to alias.
func Locate(alias string, strategy driver.Strategy, selector string) Step {
	return Step{Kind: KindLocate, As: alias, Strategy: strategy, Selector: selector}
}

func Click(target string) Step {
	return Step{Kind: KindInteract, Action: ActionClick, Target: target}
}

func SendKeys(target, text string) Step {
	return Step{Kind: KindInteract, Action: ActionSendKeys, Target: target, Text: text}
}

func Press(target string) Step {
	return Step{Kind: KindInteract, Action: ActionPress, Target: target}
}

func MoveTo(target string) Step {
	return Step{Kind: KindInteract, Action: ActionMoveTo, Target: target}
}

func Release(target string) Step {
	return Step{Kind: KindInteract, Action: ActionRelease, Target: target}
}

// Drag presses on from, moves to to and releases there.
func Drag(from, to string) []Step {
	return []Step{Press(from), MoveTo(to), Release(to)}
}

func ReadTitle(into string) Step {
	return Step{Kind: KindRead, Property: Title, Into: into}
}

func ReadURL(into string) Step {
	return Step{Kind: KindRead, Property: URL, Into: into}
}

func ReadText(target, into string) Step {
	return Step{Kind: KindRead, Property: Text, Target: target, Into: into}
}

func ReadAttribute(target, name, into string) Step {
	return Step{Kind: KindRead, Property: Attribute, Target: target, Name: name, Into: into}
}

// Describe returns a short human-readable form used in logs and errors.
func (s Step) Describe() string {
	switch s.Kind {
	case KindNavigate:
		return "navigate " + s.URL
	case KindLocate:
		return fmt.Sprintf("locate %s by %s=%q", s.As, s.Strategy, s.Selector)
	case KindInteract:
		if s.Action == ActionSendKeys {
			return fmt.Sprintf("send keys to %s", s.Target)
		}
		return fmt.Sprintf("%s %s", strings.ReplaceAll(string(s.Action), "_", " "), s.Target)
	case KindRead:
		switch s.Property {
		case Title, URL:
			return fmt.Sprintf("read %s into %s", s.Property, s.Into)
		case Attribute:
			return fmt.Sprintf("read attribute %s of %s into %s", s.Name, s.Target, s.Into)
		default:
			return fmt.Sprintf("read %s of %s into %s", s.Property, s.Target, s.Into)
		}
	}
	return string(s.Kind)
}

// Assertion expects the value recorded under Observation to equal Expected.
type Assertion struct {
	Name        string `json:"name"`
	Observation string `json:"observation"`
	Expected    string `json:"expected"`
}

// Label returns Name, falling back to the observation key.
func (a Assertion) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Observation
}

// Scenario is a named, ordered list of steps plus assertions. Treat as immutable once built.
type Scenario struct {
	Name        string
	Description string
	// BaseURL overrides the runner's base URL for relative navigations.
	BaseURL    string
	Viewport   *driver.Viewport
	Steps      []Step
	Assertions []Assertion
	Tags       []string
}

// AssertionsOn returns the assertions bound to the observation key, in declaration order.
func (sc Scenario) AssertionsOn(key string) []Assertion {
	var out []Assertion
	for _, a := range sc.Assertions {
		if a.Observation == key {
			out = append(out, a)
		}
	}
	return out
}

// Validate reports every structural problem as a single invalid_argument error.
func (sc Scenario) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(sc.Name) == "" {
		add("name is required")
	}
	if len(sc.Steps) == 0 {
		add("at least one step is required")
	}
	if sc.Viewport != nil && (sc.Viewport.Width <= 0 || sc.Viewport.Height <= 0) {
		add("viewport must have positive width and height")
	}

	bound := make(map[string]bool)
	reads := make(map[string]bool)
	for i, st := range sc.Steps {
		n := i + 1
		switch st.Kind {
		case KindNavigate:
			if strings.TrimSpace(st.URL) == "" {
				add("step %d: navigate needs a url", n)
			}
		case KindLocate:
			if _, err := driver.ParseStrategy(string(st.Strategy)); err != nil {
				add("step %d: %v", n, err)
			}
			if st.Selector == "" {
				add("step %d: locate needs a selector", n)
			}
			if st.As == "" {
				add("step %d: locate needs an alias (as)", n)
			}
			bound[st.As] = true
		case KindInteract:
			switch st.Action {
			case ActionClick, ActionSendKeys, ActionPress, ActionMoveTo, ActionRelease:
			default:
				add("step %d: unknown action %q", n, st.Action)
			}
			if !bound[st.Target] {
				add("step %d: target %q is not bound by an earlier locate", n, st.Target)
			}
		case KindRead:
			switch st.Property {
			case Title, URL:
			case Text, Attribute:
				if !bound[st.Target] {
					add("step %d: target %q is not bound by an earlier locate", n, st.Target)
				}
				if st.Property == Attribute && st.Name == "" {
					add("step %d: read attribute needs a name", n)
				}
			default:
				add("step %d: unknown property %q", n, st.Property)
			}
			if st.Into == "" {
				add("step %d: read needs an observation key (into)", n)
			} else if reads[st.Into] {
				add("step %d: observation key %q is read twice", n, st.Into)
			}
			reads[st.Into] = true
		default:
			add("step %d: unknown step kind %q", n, st.Kind)
		}
	}

	for i, a := range sc.Assertions {
		if !reads[a.Observation] {
			add("assertion %d (%s): no read step records %q", i+1, a.Label(), a.Observation)
		}
	}

	if len(problems) > 0 {
		name := sc.Name
		if name == "" {
			name = "<unnamed>"
		}
		return errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s: %s", name, strings.Join(problems, "; ")))
	}
	return nil
}

// Select returns the scenarios named in names, in the order given. No names selects all.
func Select(all []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}
	var (
		out     []Scenario
		unknown []string
	)
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, sc)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errs.New(errs.InvalidArgument, "unknown scenario: "+strings.Join(unknown, ", "))
	}
	return out, nil
}

// Names returns the scenario names in order.
func Names(all []Scenario) []string {
	out := make([]string, len(all))
	for i, sc := range all {
		out[i] = sc.Name
	}
	return out
}
