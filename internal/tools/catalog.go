// ABOUTME: Tool definitions and the registry of callable tools
// ABOUTME: Tools are a closed, explicitly enumerated set; no runtime type inspection

package tools

import "encoding/json"

// Definition describes a callable tool: its name, a human description for
// the reasoning engine, and a JSON schema for its arguments.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry holds the enumerated tool catalog. New tools are added by
// registering another Definition, never by reflection.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

// Register adds a tool definition. Re-registering a name replaces it.
func (r *Registry) Register(def Definition) {
	if _, exists := r.byName[def.Name]; !exists {
		r.defs = append(r.defs, def)
	} else {
		for i := range r.defs {
			if r.defs[i].Name == def.Name {
				r.defs[i] = def
				break
			}
		}
	}
	r.byName[def.Name] = def
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// All returns all definitions in registration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// MarketCatalog returns the registry of market data tools exposed by the
// tool server: prices, news, history, comparisons, and index summaries.
func MarketCatalog() *Registry {
	r := NewRegistry()
	r.Register(Definition{
		Name:        "get_stock_price",
		Description: "Get the current price and key metrics for a stock symbol",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string","description":"Ticker symbol, e.g. AAPL"}},"required":["symbol"]}`),
	})
	r.Register(Definition{
		Name:        "get_market_news",
		Description: "Get recent financial news articles matching a query",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"num_articles":{"type":"integer","minimum":1,"maximum":20}}}`),
	})
	r.Register(Definition{
		Name:        "get_stock_history",
		Description: "Get historical price data for a stock over a period",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"},"period":{"type":"string","enum":["1d","5d","1mo","3mo","6mo","1y","5y"]}},"required":["symbol"]}`),
	})
	r.Register(Definition{
		Name:        "compare_stocks",
		Description: "Compare key metrics across multiple stock symbols",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"symbols":{"type":"array","items":{"type":"string"},"minItems":2}},"required":["symbols"]}`),
	})
	r.Register(Definition{
		Name:        "get_market_summary",
		Description: "Get an overview of the major market indices",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	})
	return r
}
