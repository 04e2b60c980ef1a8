package bridge

import "github.com/GriffinCanCode/scriptbridge/internal/host"

// Category classifies a wrapped handle. It decides the script constructor,
// the prototype chain and the cache policy of the wrapper.
type Category int

const (
	CategoryObject Category = iota
	CategoryPageView
	CategoryFrame
	CategoryDownload
	CategoryMessage
	CategoryHistory
	CategoryMenu
	CategoryWidget
)

// Policy is the wrapper cache policy of a category.
type Policy int

const (
	// Pinned wrappers stay cached until their handle is destroyed.
	Pinned Policy = iota
	// Transient wrappers are cached weakly and recreated on demand.
	Transient
)

func (p Policy) String() string {
	if p == Transient {
		return "transient"
	}
	return "pinned"
}

type categoryInfo struct {
	// constructor is the global name scripts see.
	constructor string
	parent      Category
	policy      Policy
}

var categories = map[Category]categoryInfo{
	CategoryObject:   {constructor: "GObject", parent: -1, policy: Pinned},
	CategoryPageView: {constructor: "WebKitWebView", parent: CategoryWidget, policy: Pinned},
	CategoryFrame:    {constructor: "WebKitWebFrame", parent: CategoryObject, policy: Transient},
	CategoryDownload: {constructor: "WebKitDownload", parent: CategoryObject, policy: Pinned},
	CategoryMessage:  {constructor: "SoupMessage", parent: CategoryObject, policy: Transient},
	CategoryHistory:  {constructor: "HistoryList", parent: CategoryObject, policy: Transient},
	CategoryMenu:     {constructor: "GtkMenu", parent: CategoryWidget, policy: Pinned},
	CategoryWidget:   {constructor: "GtkWidget", parent: CategoryObject, policy: Pinned},
}

// predicates is checked in order; the first type the handle descends from
// wins. Unmatched handles are plain objects.
var predicates = []struct {
	typeName string
	category Category
}{
	{"WebKitWebView", CategoryPageView},
	{"WebKitWebFrame", CategoryFrame},
	{"WebKitDownload", CategoryDownload},
	{"SoupMessage", CategoryMessage},
	{"WebKitWebBackForwardList", CategoryHistory},
	{"GtkMenu", CategoryMenu},
	{"GtkWidget", CategoryWidget},
}

// Classify resolves the category of a handle.
func Classify(h host.Handle) Category {
	for _, p := range predicates {
		if h.IsA(p.typeName) {
			return p.category
		}
	}
	return CategoryObject
}

// String returns the script constructor name.
func (c Category) String() string {
	return categories[c].constructor
}

// Policy returns the cache policy of the category.
func (c Category) Policy() Policy {
	return categories[c].policy
}

// order lists categories parents first, so prototypes can be built in one
// pass.
var order = []Category{
	CategoryObject,
	CategoryWidget,
	CategoryMenu,
	CategoryPageView,
	CategoryFrame,
	CategoryDownload,
	CategoryMessage,
	CategoryHistory,
}
